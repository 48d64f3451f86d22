package gamesession

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	mu      sync.Mutex
	created int
	joined  int
	started int
	evicted int
}

func (m *countingMetrics) RecordSessionCreated() { m.mu.Lock(); m.created++; m.mu.Unlock() }
func (m *countingMetrics) RecordDeviceJoined()   { m.mu.Lock(); m.joined++; m.mu.Unlock() }
func (m *countingMetrics) RecordGameStarted()    { m.mu.Lock(); m.started++; m.mu.Unlock() }
func (m *countingMetrics) RecordSessionsEvicted(n int) {
	m.mu.Lock()
	m.evicted += n
	m.mu.Unlock()
}

func newTestApp(t *testing.T) (*App, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	app := NewApp(NewMemoryRepository(), AppConfig{
		SessionExpiry: time.Hour,
		Clock:         clock,
	})
	return app, clock
}

func sequenceIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i]
		if i < len(ids)-1 {
			i++
		}
		return id
	}
}

func TestNewApp_Defaults(t *testing.T) {
	app := NewApp(NewMemoryRepository(), AppConfig{})
	assert.Equal(t, DefaultSessionExpiry, app.SessionExpiry())

	id, err := app.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestCreateSession_InitialState(t *testing.T) {
	ctx := context.Background()
	app, clock := newTestApp(t)

	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	s, err := app.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, s.GameStarted)
	assert.Equal(t, 1, s.DeviceCount)
	assert.Nil(t, s.LastActivityAt)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Empty(t, s.Updates)
	assert.Empty(t, s.PathEvents)
}

func TestCreateSession_RegeneratesCollidingID(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	app := NewApp(NewMemoryRepository(), AppConfig{
		Clock: clock,
		NewID: sequenceIDs("dup", "dup", "fresh"),
	})

	first, err := app.CreateSession(ctx)
	require.NoError(t, err)
	second, err := app.CreateSession(ctx)
	require.NoError(t, err)

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
	assert.Equal(t, 2, app.SessionCount())
}

func TestCreateSession_ReusesExpiredID(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	app := NewApp(NewMemoryRepository(), AppConfig{
		SessionExpiry: time.Minute,
		Clock:         clock,
		NewID:         sequenceIDs("same"),
	})

	id, err := app.CreateSession(ctx)
	require.NoError(t, err)
	_, err = app.JoinSession(ctx, id)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	again, err := app.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	result, err := app.JoinSession(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssignedDeviceIndex)
}

func TestCreateSession_OverwritesAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	calls := 0
	app := NewApp(NewMemoryRepository(), AppConfig{
		Clock: clockwork.NewFakeClock(),
		NewID: func() string {
			calls++
			return "stuck"
		},
	})

	_, err := app.CreateSession(ctx)
	require.NoError(t, err)
	_, err = app.JoinSession(ctx, "stuck")
	require.NoError(t, err)

	calls = 0
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stuck", id)
	assert.Equal(t, MaxIDAttempts+1, calls)

	s, err := app.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.DeviceCount)
}

func TestJoinSession_ConcurrentOrdinals(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	const devices = 64
	indices := make([]int, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := app.JoinSession(ctx, id)
			if assert.NoError(t, err) {
				indices[i] = result.AssignedDeviceIndex
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(indices)
	for i, idx := range indices {
		assert.Equal(t, i+1, idx)
	}

	s, err := app.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, devices+1, s.DeviceCount)
}

func TestStartGame_Idempotent(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	app := NewApp(NewMemoryRepository(), AppConfig{Clock: clockwork.NewFakeClock(), Metrics: metrics})
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	first, err := app.StartGame(ctx, id)
	require.NoError(t, err)
	assert.False(t, first.WasAlreadyRunning)
	assert.True(t, first.GameStarted)

	for i := 0; i < 3; i++ {
		again, err := app.StartGame(ctx, id)
		require.NoError(t, err)
		assert.True(t, again.WasAlreadyRunning)
		assert.True(t, again.GameStarted)
	}

	started, err := app.GameStarted(ctx, id)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 1, metrics.started)
	assert.Equal(t, 1, metrics.created)
}

func TestStartGame_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	const callers = 20
	var (
		mu      sync.Mutex
		winners int
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := app.StartGame(ctx, id)
			if assert.NoError(t, err) && !result.WasAlreadyRunning {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestLogs_AppendInOrder(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	const k = 10
	for i := 0; i < k; i++ {
		require.NoError(t, app.AppendUpdate(ctx, id, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))))
		require.NoError(t, app.AppendPathEvent(ctx, id, json.RawMessage(fmt.Sprintf(`{"touch":%d}`, i))))
	}

	updates, err := app.Updates(ctx, id)
	require.NoError(t, err)
	require.Len(t, updates, k)
	for i, u := range updates {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(u))
	}

	paths, err := app.PathEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, paths, k)
	for i, p := range paths {
		assert.JSONEq(t, fmt.Sprintf(`{"touch":%d}`, i), string(p))
	}
}

func TestLogs_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	record := json.RawMessage(`{"a":1}`)
	require.NoError(t, app.AppendUpdate(ctx, id, record))
	record[2] = 'b'

	updates, err := app.Updates(ctx, id)
	require.NoError(t, err)
	updates[0] = json.RawMessage(`null`)

	again, err := app.Updates(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(again[0]))
}

func TestOperations_UnknownSession(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	_, err := app.JoinSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = app.GameStarted(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = app.StartGame(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, app.AppendUpdate(ctx, "nope", json.RawMessage(`{}`)), ErrSessionNotFound)
	assert.ErrorIs(t, app.AppendPathEvent(ctx, "nope", json.RawMessage(`{}`)), ErrSessionNotFound)
	_, err = app.Updates(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = app.PathEvents(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, app.Touch(ctx, "nope"), ErrSessionNotFound)
	assert.ErrorIs(t, app.CheckSession(ctx, "nope"), ErrSessionNotFound)
}

func TestExpiry_AfterInactivity(t *testing.T) {
	ctx := context.Background()
	app, clock := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	_, err = app.JoinSession(ctx, id)
	require.NoError(t, err)

	// exactly the expiry period is still active
	clock.Advance(time.Hour)
	require.NoError(t, app.CheckSession(ctx, id))

	clock.Advance(time.Second)
	_, err = app.GameStarted(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = app.JoinSession(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, app.AppendUpdate(ctx, id, json.RawMessage(`{}`)), ErrSessionNotFound)
}

func TestExpiry_ActivityExtendsLifetime(t *testing.T) {
	ctx := context.Background()
	app, clock := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, app.Touch(ctx, id))

	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Minute)
		require.NoError(t, app.AppendUpdate(ctx, id, json.RawMessage(`{}`)))
	}
	assert.NoError(t, app.CheckSession(ctx, id))
}

func TestExpiry_NeverActiveSessionPersists(t *testing.T) {
	ctx := context.Background()
	app, clock := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	assert.NoError(t, app.CheckSession(ctx, id))
	assert.Equal(t, 0, app.EvictExpired(ctx))
}

func TestQueriesDoNotRefreshActivity(t *testing.T) {
	ctx := context.Background()
	app, clock := newTestApp(t)
	id, err := app.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, app.Touch(ctx, id))

	clock.Advance(30 * time.Minute)
	_, err = app.GameStarted(ctx, id)
	require.NoError(t, err)
	_, err = app.StartGame(ctx, id)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	assert.ErrorIs(t, app.CheckSession(ctx, id), ErrSessionNotFound)
}

func TestEvictExpired(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	clock := clockwork.NewFakeClock()
	app := NewApp(NewMemoryRepository(), AppConfig{SessionExpiry: time.Minute, Clock: clock, Metrics: metrics})

	stale, err := app.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, app.Touch(ctx, stale))

	clock.Advance(2 * time.Minute)

	fresh, err := app.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, app.Touch(ctx, fresh))

	stats := app.Stats(ctx)
	assert.Equal(t, Stats{Sessions: 2, ExpiredSessions: 1}, stats)

	assert.Equal(t, 1, app.EvictExpired(ctx))
	assert.Equal(t, 1, app.SessionCount())
	assert.Equal(t, 1, metrics.evicted)
	assert.NoError(t, app.CheckSession(ctx, fresh))
}

func TestRunReaper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	app := NewApp(NewMemoryRepository(), AppConfig{SessionExpiry: time.Minute, Clock: clock})

	id, err := app.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, app.Touch(ctx, id))

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.RunReaper(ctx, 5*time.Minute)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool { return app.SessionCount() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestRunReaper_Disabled(t *testing.T) {
	app, _ := newTestApp(t)
	// returns immediately
	app.RunReaper(context.Background(), 0)
}

func TestScenario_JoinAndStart(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	first, err := app.JoinSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &JoinResult{GameStarted: false, AssignedDeviceIndex: 1}, first)

	start, err := app.StartGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &StartResult{WasAlreadyRunning: false, GameStarted: true}, start)

	again, err := app.StartGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &StartResult{WasAlreadyRunning: true, GameStarted: true}, again)

	second, err := app.JoinSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &JoinResult{GameStarted: true, AssignedDeviceIndex: 2}, second)
}
