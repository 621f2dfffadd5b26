package offline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisdrone/field-controller/internal/cloud"
	"github.com/sisdrone/field-controller/internal/storage"
)

// mockReplayer simulates the backend write API for testing
type mockReplayer struct {
	mu          sync.Mutex
	replayed    []*storage.QueuedMutation
	failURLs    map[string]bool
	unreachable bool
	block       chan struct{}
	onReplay    func()
}

func (m *mockReplayer) Replay(ctx context.Context, mut *storage.QueuedMutation) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return &cloud.UnreachableError{Err: errors.New("no route to host")}
	}
	if m.failURLs[mut.URL] {
		return errors.New("API error 500: boom")
	}
	copied := *mut
	m.replayed = append(m.replayed, &copied)
	if m.onReplay != nil {
		m.onReplay()
	}
	return nil
}

func (m *mockReplayer) replayedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, len(m.replayed))
	for i, r := range m.replayed {
		urls[i] = r.URL
	}
	return urls
}

func setupQueue(t *testing.T) (*Queue, *mockReplayer, *storage.DB) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	replayer := &mockReplayer{failURLs: map[string]bool{}}
	return NewQueue(db, replayer, zerolog.Nop()), replayer, db
}

func TestDrainReplaysFIFO(t *testing.T) {
	q, replayer, _ := setupQueue(t)

	require.NoError(t, q.Enqueue("/api/poles", http.MethodPost, []byte(`{"name":"A"}`)))
	require.NoError(t, q.Enqueue("/api/gis/import/geojson", http.MethodPost, []byte(`{"geojson":{}}`)))
	require.NoError(t, q.Enqueue("/api/feedback", http.MethodPost, []byte(`{"isCorrect":true}`)))

	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []string{"/api/poles", "/api/gis/import/geojson", "/api/feedback"},
		replayer.replayedURLs())

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrainRetainsFailedMutation(t *testing.T) {
	q, replayer, db := setupQueue(t)

	require.NoError(t, q.Enqueue("/api/a", http.MethodPost, []byte(`{}`)))
	require.NoError(t, q.Enqueue("/api/b", http.MethodPost, []byte(`{}`)))
	require.NoError(t, q.Enqueue("/api/c", http.MethodPost, []byte(`{}`)))

	replayer.failURLs["/api/b"] = true
	err := q.Drain(context.Background())
	assert.ErrorContains(t, err, "1 of 3 queued mutations failed to sync")

	// A and C delivered, B retained with its failure recorded.
	assert.Equal(t, []string{"/api/a", "/api/c"}, replayer.replayedURLs())
	remaining, listErr := db.ListMutations()
	require.NoError(t, listErr)
	require.Len(t, remaining, 1)
	assert.Equal(t, "/api/b", remaining[0].URL)
	assert.Equal(t, 1, remaining[0].Attempts)
	assert.Contains(t, remaining[0].LastError, "500")

	// Next drain delivers B without duplicating A or C.
	replayer.failURLs["/api/b"] = false
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []string{"/api/a", "/api/c", "/api/b"}, replayer.replayedURLs())
	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrainWhileDrainingIsNoOp(t *testing.T) {
	q, replayer, _ := setupQueue(t)
	replayer.block = make(chan struct{})

	require.NoError(t, q.Enqueue("/api/a", http.MethodPost, []byte(`{}`)))

	done := make(chan error, 1)
	go func() { done <- q.Drain(context.Background()) }()

	require.Eventually(t, q.Syncing, time.Second, time.Millisecond)

	// Concurrent drains could replay the same item twice; the guard makes
	// them no-ops instead.
	assert.NoError(t, q.Drain(context.Background()))
	assert.Empty(t, replayer.replayedURLs())

	close(replayer.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"/api/a"}, replayer.replayedURLs())
	assert.False(t, q.Syncing())
}

func TestSubmitDeliversWhenOnline(t *testing.T) {
	q, replayer, _ := setupQueue(t)

	queued, err := q.Submit(context.Background(), "/api/poles", http.MethodPost,
		map[string]string{"name": "P-100"})

	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, []string{"/api/poles"}, replayer.replayedURLs())

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestSubmitCapturesWhenUnreachable(t *testing.T) {
	q, replayer, db := setupQueue(t)
	replayer.unreachable = true

	queued, err := q.Submit(context.Background(), "/api/poles", http.MethodPost,
		map[string]string{"name": "P-100"})

	require.NoError(t, err)
	assert.True(t, queued)

	captured, listErr := db.ListMutations()
	require.NoError(t, listErr)
	require.Len(t, captured, 1)
	assert.Equal(t, "/api/poles", captured[0].URL)
	assert.NotEmpty(t, captured[0].IdempotencyKey)
	assert.JSONEq(t, `{"name":"P-100"}`, captured[0].Payload)

	// Back online: the drain delivers the captured payload with the same
	// idempotency key it was assigned at capture time.
	replayer.unreachable = false
	require.NoError(t, q.Drain(context.Background()))

	require.Len(t, replayer.replayed, 1)
	assert.Equal(t, captured[0].IdempotencyKey, replayer.replayed[0].IdempotencyKey)
	assert.JSONEq(t, `{"name":"P-100"}`, replayer.replayed[0].Payload)
}

func TestSubmitDoesNotCaptureServerErrors(t *testing.T) {
	q, replayer, _ := setupQueue(t)
	replayer.failURLs["/api/poles"] = true

	queued, err := q.Submit(context.Background(), "/api/poles", http.MethodPost,
		map[string]string{"name": "P-100"})

	// The server saw the request; blindly replaying it later could
	// double-apply, so the error surfaces instead.
	require.Error(t, err)
	assert.False(t, queued)

	pending, pendErr := q.Pending()
	require.NoError(t, pendErr)
	assert.Zero(t, pending)
}

func TestEnqueuePropagatesStorageFailure(t *testing.T) {
	q, _, db := setupQueue(t)
	require.NoError(t, db.Close())

	err := q.Enqueue("/api/poles", http.MethodPost, []byte(`{}`))

	assert.ErrorContains(t, err, "persist queued mutation")
}

func TestDrainFiresDrainedCallback(t *testing.T) {
	q, replayer, _ := setupQueue(t)

	fired := 0
	q.SetDrainedCallback(func() { fired++ })

	require.NoError(t, q.Enqueue("/api/a", http.MethodPost, []byte(`{}`)))
	require.NoError(t, q.Drain(context.Background()))
	assert.Equal(t, 1, fired)

	// Partial passes trigger resynchronization too.
	require.NoError(t, q.Enqueue("/api/b", http.MethodPost, []byte(`{}`)))
	replayer.failURLs["/api/b"] = true
	assert.Error(t, q.Drain(context.Background()))
	assert.Equal(t, 2, fired)
}

func TestDrainFiresCallbackWhenAckRemovalFails(t *testing.T) {
	q, replayer, db := setupQueue(t)

	fired := 0
	q.SetDrainedCallback(func() { fired++ })

	require.NoError(t, q.Enqueue("/api/a", http.MethodPost, []byte(`{}`)))

	// Closing the database after delivery makes the acknowledged row
	// impossible to remove; the pass must still end with a resync.
	replayer.onReplay = func() { db.Close() }

	err := q.Drain(context.Background())
	assert.ErrorContains(t, err, "1 of 1 queued mutations failed to sync")
	assert.Equal(t, []string{"/api/a"}, replayer.replayedURLs())
	assert.Equal(t, 1, fired)
	assert.False(t, q.Syncing())
}
