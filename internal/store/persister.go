package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/timebook/internal/models"
	"github.com/rs/zerolog/log"
)

// Saver persists a full snapshot.
type Saver interface {
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error
}

// SnapshotFunc captures the current in-memory state.
type SnapshotFunc func(ctx context.Context) (models.Snapshot, error)

// Persister writes snapshots in the background. Mark never blocks: bursts of
// changes collapse into a single save after the debounce interval.
type Persister struct {
	saver    Saver
	snapshot SnapshotFunc
	debounce time.Duration

	dirty chan struct{}
	mu    sync.Mutex // serializes Flush
}

// NewPersister creates a Persister.
func NewPersister(saver Saver, snapshot SnapshotFunc, debounce time.Duration) *Persister {
	return &Persister{
		saver:    saver,
		snapshot: snapshot,
		debounce: debounce,
		dirty:    make(chan struct{}, 1),
	}
}

// Mark flags the state as changed.
func (p *Persister) Mark() {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Run saves marked changes until ctx is cancelled. Save failures are logged
// and retried on the next Mark.
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.dirty:
		}

		if p.debounce > 0 {
			t := time.NewTimer(p.debounce)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil
			}
		}

		if err := p.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to persist state")
		}
	}
}

// Flush captures and saves a snapshot now.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}
	if err := p.saver.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	log.Debug().Int("accounts", len(snap.Accounts)).Int("entries", len(snap.TimeLogs)).Msg("State persisted")
	return nil
}
