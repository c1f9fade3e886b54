package internal

import "expvar"

var (
	webhooksTotal      = expvar.NewMap("agentwatch_webhooks_total")
	validationFailures = expvar.NewMap("agentwatch_validation_failures_total")
	eventsDispatched   = expvar.NewMap("agentwatch_events_dispatched_total")
	eventsSkipped      = expvar.NewMap("agentwatch_events_skipped_total")
	commandRuns        = expvar.NewMap("agentwatch_command_runs_total")
	pollErrors         = expvar.NewMap("agentwatch_poll_errors_total")
	rateLimited        = expvar.NewMap("agentwatch_rate_limited_total")
)

func IncWebhook(provider string) {
	webhooksTotal.Add(provider, 1)
}

func IncValidationFailure(provider string) {
	validationFailures.Add(provider, 1)
}

func IncDispatched(provider string) {
	eventsDispatched.Add(provider, 1)
}

func IncSkipped(provider string) {
	eventsSkipped.Add(provider, 1)
}

func IncCommandRun(provider string) {
	commandRuns.Add(provider, 1)
}

func IncPollError(provider string) {
	pollErrors.Add(provider, 1)
}

func IncRateLimited(provider string) {
	rateLimited.Add(provider, 1)
}
