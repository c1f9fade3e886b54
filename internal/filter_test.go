package internal

import "testing"

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		name        string
		typ         string
		action      string
		state       string
		hasActivity bool
		want        bool
	}{
		{"opened issue", "issue", "opened", "open", true, false},
		{"open merge request", "merge_request", "open", "opened", true, false},
		{"issue comment", "issue", "commented", "open", true, true},
		{"pr synchronize", "pull_request", "synchronize", "open", true, false},
		{"mr update", "merge_request", "update", "opened", true, false},
		{"pr labeled", "pull_request", "labeled", "open", true, false},
		{"pr poll without activity", "pull_request", "poll", "open", false, false},
		{"pr poll with activity", "pull_request", "poll", "open", true, true},
		{"issue poll without activity flag", "issue", "poll", "open", false, true},
		{"closed issue", "issue", "commented", "closed", true, false},
		{"reopened issue", "issue", "reopened", "closed", true, true},
		{"linear done", "issue", "update", "Done", true, false},
		{"linear cancelled", "issue", "update", "Cancelled", true, false},
		{"linear canceled", "issue", "update", "Canceled", true, false},
		{"app mention", "message", "app_mention", "", true, true},
		{"plain message", "message", "message", "", true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &Event{
				ID:       "x:y#1:a:1:1",
				Provider: "x",
				Type:     tc.typ,
				Action:   tc.action,
				Resource: Resource{Repository: "y", State: tc.state},
			}
			got, reason := ShouldProcess(e, tc.hasActivity)
			if got != tc.want {
				t.Fatalf("ShouldProcess(%s) = %v (%s), want %v", tc.name, got, reason, tc.want)
			}
			if !got && reason == "" {
				t.Fatalf("dropped event must carry a reason")
			}
		})
	}
}
