package tasks

import (
	"context"
	"fmt"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
	"github.com/quasi-board/quasi-board/pkg/ledger"
)

// LedgerStatusSource is the subset of ledger.Store the projector needs,
// narrowed so tests can substitute a fake.
type LedgerStatusSource interface {
	EffectiveStatus(taskID string) ledger.Status
}

// Projector joins the task cache with ledger-derived status to build
// outbox Notes.
type Projector struct {
	cache    *Cache
	status   LedgerStatusSource
	boardURL string
}

// NewProjector constructs a Projector. boardURL is the external base URL
// used to build each Note's id.
func NewProjector(cache *Cache, status LedgerStatusSource, boardURL string) *Projector {
	return &Projector{cache: cache, status: status, boardURL: boardURL}
}

// Notes renders the current task list as ActivityPub Notes, each overlaid
// with its effective ledger status at render time.
func (p *Projector) Notes(ctx context.Context) ([]activitypub.Note, error) {
	tasks := p.cache.Tasks()
	notes := make([]activitypub.Note, 0, len(tasks))
	for _, t := range tasks {
		st := p.status.EffectiveStatus(t.ID)
		note := activitypub.Note{
			ID:          fmt.Sprintf("%s/quasi-board/tasks/%s", p.boardURL, t.ID),
			Type:        "Note",
			Name:        t.Title,
			URL:         t.URL,
			Content:     t.Title,
			Published:   ledger.FormatTimestamp(t.FetchedAt),
			QuasiTaskID: t.ID,
			QuasiStatus: string(st.State),
		}
		if st.State == ledger.StateClaimed {
			note.QuasiClaimedBy = st.ClaimedBy
			note.QuasiExpiresAt = st.ExpiresAt
		}
		notes = append(notes, note)
	}
	return notes, nil
}
