package gitlab

import (
	"context"
	"fmt"
	"log"

	gl "github.com/xanzy/go-gitlab"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// reactor is the per-event capability over one issue or merge request
// notes thread. It borrows the provider's client.
type reactor struct {
	client     *gl.Client
	project    string
	iid        int
	kind       resourceKind
	identities []string
	logger     *log.Logger
	retry      internal.RetryConfig
}

func (r *reactor) LastComment(ctx context.Context) (*internal.Comment, error) {
	var notes []*gl.Note
	err := internal.WithRetry(ctx, r.retry, r.logger, "last note", func() (bool, error) {
		var listErr error
		switch r.kind {
		case kindMergeRequest:
			notes, _, listErr = r.client.Notes.ListMergeRequestNotes(r.project, r.iid, &gl.ListMergeRequestNotesOptions{
				OrderBy:     gl.Ptr("created_at"),
				Sort:        gl.Ptr("desc"),
				ListOptions: gl.ListOptions{PerPage: 1},
			}, gl.WithContext(ctx))
		default:
			notes, _, listErr = r.client.Notes.ListIssueNotes(r.project, r.iid, &gl.ListIssueNotesOptions{
				OrderBy:     gl.Ptr("created_at"),
				Sort:        gl.Ptr("desc"),
				ListOptions: gl.ListOptions{PerPage: 1},
			}, gl.WithContext(ctx))
		}
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	note := notes[0]
	comment := &internal.Comment{Body: note.Body}
	comment.Author = note.Author.Username
	return comment, nil
}

func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var id int
	err := internal.WithRetry(ctx, r.retry, r.logger, "post note", func() (bool, error) {
		var postErr error
		switch r.kind {
		case kindMergeRequest:
			var note *gl.Note
			note, _, postErr = r.client.Notes.CreateMergeRequestNote(r.project, r.iid, &gl.CreateMergeRequestNoteOptions{
				Body: gl.Ptr(body),
			}, gl.WithContext(ctx))
			if note != nil {
				id = note.ID
			}
		default:
			var note *gl.Note
			note, _, postErr = r.client.Notes.CreateIssueNote(r.project, r.iid, &gl.CreateIssueNoteOptions{
				Body: gl.Ptr(body),
			}, gl.WithContext(ctx))
			if note != nil {
				id = note.ID
			}
		}
		if postErr != nil {
			return isTransient(postErr), postErr
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (r *reactor) IsBotAuthor(name string) bool {
	return watcher.MatchBotAuthor(r.identities, name)
}
