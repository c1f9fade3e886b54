package internal

// Event filtering applied uniformly to webhook and polled events, on the
// normalized form. The same rules run for every provider; the
// hasRecentHumanActivity flag is resolved by the provider for polled
// pull/merge requests (true elsewhere).

var metadataOnlyActions = map[string]bool{
	"synchronize": true,
	"update":      true,
	"edited":      true,
	"labeled":     true,
	"unlabeled":   true,
	"assigned":    true,
	"unassigned":  true,
	"locked":      true,
	"unlocked":    true,
}

var terminalStates = map[string]bool{
	"Done":      true,
	"Cancelled": true,
	"Canceled":  true,
}

func isReviewRequest(t string) bool {
	return t == "pull_request" || t == "merge_request"
}

// ShouldProcess reports whether a normalized event is actionable. The second
// return value names the rule that dropped it, for logging.
func ShouldProcess(e *Event, hasRecentHumanActivity bool) (bool, string) {
	switch e.Action {
	case "opened", "open":
		return false, "nothing to respond to on open"
	}
	if isReviewRequest(e.Type) {
		if metadataOnlyActions[e.Action] {
			return false, "automated or metadata-only action"
		}
		if e.Action == ActionPoll && !hasRecentHumanActivity {
			return false, "polled without recent human activity"
		}
	}
	if e.Resource.State == "closed" && e.Action != "reopened" && e.Action != "reopen" {
		return false, "resource is closed"
	}
	if terminalStates[e.Resource.State] {
		return false, "resource is in a terminal state"
	}
	if e.Type == "message" && e.Action != "app_mention" {
		return false, "not a direct mention"
	}
	return true, ""
}
