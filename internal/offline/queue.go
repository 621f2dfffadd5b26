// Package offline implements the durable offline mutation queue: write
// intents captured while the backend is unreachable are persisted locally
// and replayed in submission order once connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sisdrone/field-controller/internal/cloud"
	"github.com/sisdrone/field-controller/internal/storage"
)

// Replayer resubmits a captured write intent to its original endpoint
type Replayer interface {
	Replay(ctx context.Context, m *storage.QueuedMutation) error
}

// Queue captures write intents while offline and drains them FIFO on
// reconnect. Replay is at-least-once: every mutation carries an idempotency
// key the backend can deduplicate on.
type Queue struct {
	db       *storage.DB
	replayer Replayer
	log      zerolog.Logger

	syncing   atomic.Bool
	onDrained func()
}

// NewQueue creates an offline mutation queue over the given durable store
func NewQueue(db *storage.DB, replayer Replayer, log zerolog.Logger) *Queue {
	return &Queue{
		db:       db,
		replayer: replayer,
		log:      log.With().Str("component", "offline-queue").Logger(),
	}
}

// SetDrainedCallback sets the hook fired after every drain pass, successful
// or partial. The engine uses it to resynchronize the local cache.
func (q *Queue) SetDrainedCallback(cb func()) {
	q.onDrained = cb
}

// Syncing reports whether a drain pass is actively in progress. This is a
// UI indicator only, not a correctness mechanism.
func (q *Queue) Syncing() bool {
	return q.syncing.Load()
}

// Pending returns the number of queued mutations
func (q *Queue) Pending() (int, error) {
	return q.db.CountMutations()
}

// Enqueue durably persists a write intent for later replay. A storage
// failure propagates to the caller: losing the only copy of an unsent write
// is a correctness violation the caller must surface.
func (q *Queue) Enqueue(url, method string, payload []byte) error {
	m := &storage.QueuedMutation{
		IdempotencyKey: uuid.New().String(),
		URL:            url,
		Method:         method,
		Payload:        string(payload),
	}

	id, err := q.db.EnqueueMutation(m)
	if err != nil {
		return fmt.Errorf("persist queued mutation: %w", err)
	}

	q.log.Info().Int64("id", id).Str("method", method).Str("url", url).
		Msg("write captured for offline replay")
	return nil
}

// Submit attempts a write against the backend directly and captures it for
// offline replay when the backend is unreachable. Returns queued=true when
// the write was persisted locally instead of delivered. An HTTP error
// response is returned as-is: the server saw the request, so replaying it
// blindly could double-apply it.
func (q *Queue) Submit(ctx context.Context, url, method string, payload interface{}) (queued bool, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	attempt := &storage.QueuedMutation{
		IdempotencyKey: uuid.New().String(),
		URL:            url,
		Method:         method,
		Payload:        string(data),
	}

	err = q.replayer.Replay(ctx, attempt)
	if err == nil {
		return false, nil
	}
	if !cloud.IsUnreachable(err) {
		return false, err
	}

	if _, err := q.db.EnqueueMutation(attempt); err != nil {
		return false, fmt.Errorf("persist queued mutation: %w", err)
	}

	q.log.Info().Str("method", method).Str("url", url).
		Msg("backend unreachable, write captured for offline replay")
	return true, nil
}

// Drain replays all queued mutations in insertion order, strictly
// sequentially. Each entry is deleted only after its individual replay is
// acknowledged; failed entries are retained for the next drain. A Drain
// while another pass is in flight is a no-op.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer q.syncing.Store(false)

	mutations, err := q.db.ListMutations()
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}

	failed := 0
	for _, m := range mutations {
		if err := q.replayer.Replay(ctx, m); err != nil {
			failed++
			q.log.Warn().Int64("id", m.ID).Err(err).Msg("replay failed, retaining mutation")
			if dbErr := q.db.MarkMutationFailed(m.ID, err.Error()); dbErr != nil {
				q.log.Error().Int64("id", m.ID).Err(dbErr).Msg("failed to record replay attempt")
			}
			continue
		}

		if err := q.db.DeleteMutation(m.ID); err != nil {
			// The row stays queued and will replay again; the backend
			// deduplicates on the idempotency key.
			failed++
			q.log.Error().Int64("id", m.ID).Err(err).Msg("failed to remove acknowledged mutation")
			continue
		}
		q.log.Info().Int64("id", m.ID).Str("url", m.URL).Msg("queued mutation replayed")
	}

	// Reconcile any divergence the offline window introduced, even after a
	// partial pass.
	if q.onDrained != nil {
		q.onDrained()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d queued mutations failed to sync", failed, len(mutations))
	}
	return nil
}
