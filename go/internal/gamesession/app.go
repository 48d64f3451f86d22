package gamesession

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/multigolf/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Repository defines what the app layer needs from the session store
type Repository interface {
	Save(ctx context.Context, session *models.GameSession) bool
	Get(ctx context.Context, id string) (*models.GameSession, error)
	Mutate(ctx context.Context, id string, fn func(*models.GameSession) error) error
	DeleteIf(ctx context.Context, pred func(*models.GameSession) bool) int
	List(ctx context.Context) []*models.GameSession
	Count() int
}

// MetricsCollector defines the session lifecycle metrics the app records
type MetricsCollector interface {
	RecordSessionCreated()
	RecordDeviceJoined()
	RecordGameStarted()
	RecordSessionsEvicted(n int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSessionCreated()       {}
func (NoOpMetricsCollector) RecordDeviceJoined()         {}
func (NoOpMetricsCollector) RecordGameStarted()          {}
func (NoOpMetricsCollector) RecordSessionsEvicted(n int) {}

// AppConfig holds the tunables of the session app. Zero values fall back to defaults.
type AppConfig struct {
	SessionExpiry time.Duration
	Clock         Clock
	NewID         func() string
	Metrics       MetricsCollector
}

// App handles session admission, game state and event logging
type App struct {
	repo    Repository
	clock   Clock
	expiry  time.Duration
	newID   func() string
	metrics MetricsCollector
}

// NewApp creates a new session App
func NewApp(repo Repository, cfg AppConfig) *App {
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = DefaultSessionExpiry
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoOpMetricsCollector{}
	}

	return &App{
		repo:    repo,
		clock:   cfg.Clock,
		expiry:  cfg.SessionExpiry,
		newID:   cfg.NewID,
		metrics: cfg.Metrics,
	}
}

// SessionExpiry returns the idle period after which a session expires
func (a *App) SessionExpiry() time.Duration {
	return a.expiry
}

// IsExpired reports whether the session has been idle for longer than the
// expiry period. A session with no recorded activity has not expired.
func (a *App) IsExpired(s *models.GameSession, now time.Time) bool {
	if s.LastActivityAt == nil {
		return false
	}
	return now.Sub(*s.LastActivityAt) > a.expiry
}

// CreateSession registers a new session and returns its ID. A candidate ID
// that names an active session is regenerated up to MaxIDAttempts times;
// after that the last candidate is used anyway.
func (a *App) CreateSession(ctx context.Context) (string, error) {
	now := a.clock.Now()

	id := a.newID()
	for attempt := 0; attempt < MaxIDAttempts && a.isActive(ctx, id, now); attempt++ {
		log.Debug().Str("session_id", id).Int("attempt", attempt+1).Msg("session id collision, regenerating")
		id = a.newID()
	}

	if replaced := a.repo.Save(ctx, models.NewGameSession(id, now)); replaced {
		log.Warn().Str("session_id", id).Msg("replaced stored session with the same id")
	}
	a.metrics.RecordSessionCreated()

	log.Info().Str("session_id", id).Msg("created game session")
	return id, nil
}

// JoinSession admits a device and hands it the next device ordinal
func (a *App) JoinSession(ctx context.Context, id string) (*JoinResult, error) {
	var result JoinResult
	err := a.mutateActive(ctx, id, func(s *models.GameSession, now time.Time) error {
		result = JoinResult{
			GameStarted:         s.GameStarted,
			AssignedDeviceIndex: s.DeviceCount,
		}
		s.DeviceCount++
		s.LastActivityAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.metrics.RecordDeviceJoined()

	log.Info().
		Str("session_id", id).
		Int("device_index", result.AssignedDeviceIndex).
		Bool("game_started", result.GameStarted).
		Msg("device joined game session")
	return &result, nil
}

// GameStarted reports whether the session's game has started
func (a *App) GameStarted(ctx context.Context, id string) (bool, error) {
	s, err := a.activeSession(ctx, id)
	if err != nil {
		return false, err
	}
	return s.GameStarted, nil
}

// StartGame moves the session into the started state. Calling it again is a
// no-op that reports WasAlreadyRunning.
func (a *App) StartGame(ctx context.Context, id string) (*StartResult, error) {
	var wasRunning bool
	err := a.mutateActive(ctx, id, func(s *models.GameSession, _ time.Time) error {
		wasRunning = s.GameStarted
		s.GameStarted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !wasRunning {
		a.metrics.RecordGameStarted()
		log.Info().Str("session_id", id).Msg("game started")
	}
	return &StartResult{WasAlreadyRunning: wasRunning, GameStarted: true}, nil
}

// AppendUpdate appends an opaque record to the session's replay log
func (a *App) AppendUpdate(ctx context.Context, id string, record json.RawMessage) error {
	rec := append(json.RawMessage(nil), record...)
	return a.mutateActive(ctx, id, func(s *models.GameSession, now time.Time) error {
		s.Updates = append(s.Updates, rec)
		s.LastActivityAt = &now
		return nil
	})
}

// Updates returns the session's replay log in append order
func (a *App) Updates(ctx context.Context, id string) ([]json.RawMessage, error) {
	s, err := a.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Updates, nil
}

// AppendPathEvent appends an opaque touch record to the session's path log
func (a *App) AppendPathEvent(ctx context.Context, id string, record json.RawMessage) error {
	rec := append(json.RawMessage(nil), record...)
	return a.mutateActive(ctx, id, func(s *models.GameSession, now time.Time) error {
		s.PathEvents = append(s.PathEvents, rec)
		s.LastActivityAt = &now
		return nil
	})
}

// PathEvents returns the session's path log in append order
func (a *App) PathEvents(ctx context.Context, id string) ([]json.RawMessage, error) {
	s, err := a.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.PathEvents, nil
}

// Touch refreshes the session's activity timestamp
func (a *App) Touch(ctx context.Context, id string) error {
	return a.mutateActive(ctx, id, func(s *models.GameSession, now time.Time) error {
		s.LastActivityAt = &now
		return nil
	})
}

// CheckSession returns ErrSessionNotFound unless the session is active
func (a *App) CheckSession(ctx context.Context, id string) error {
	_, err := a.activeSession(ctx, id)
	return err
}

// GetSession returns a copy of an active session
func (a *App) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	return a.activeSession(ctx, id)
}

// EvictExpired deletes every expired session and returns how many were removed
func (a *App) EvictExpired(ctx context.Context) int {
	now := a.clock.Now()
	removed := a.repo.DeleteIf(ctx, func(s *models.GameSession) bool {
		return a.IsExpired(s, now)
	})
	if removed > 0 {
		a.metrics.RecordSessionsEvicted(removed)
		log.Info().Int("evicted", removed).Msg("evicted expired game sessions")
	}
	return removed
}

// RunReaper evicts expired sessions every interval until ctx is cancelled
func (a *App) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info().Msg("session reaper disabled")
		return
	}

	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("session reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session reaper shutting down")
			return
		case <-ticker.Chan():
			a.EvictExpired(ctx)
		}
	}
}

// Stats summarizes the sessions currently held in memory
func (a *App) Stats(ctx context.Context) Stats {
	now := a.clock.Now()
	var stats Stats
	for _, s := range a.repo.List(ctx) {
		stats.Sessions++
		if s.GameStarted {
			stats.StartedSessions++
		}
		if a.IsExpired(s, now) {
			stats.ExpiredSessions++
		}
	}
	return stats
}

// SessionCount returns the number of sessions held in memory, expired ones
// included until the reaper evicts them
func (a *App) SessionCount() int {
	return a.repo.Count()
}

func (a *App) isActive(ctx context.Context, id string, now time.Time) bool {
	s, err := a.repo.Get(ctx, id)
	if err != nil {
		return false
	}
	return !a.IsExpired(s, now)
}

func (a *App) activeSession(ctx context.Context, id string) (*models.GameSession, error) {
	s, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsExpired(s, a.clock.Now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// mutateActive applies fn under the session lock after checking expiry
func (a *App) mutateActive(ctx context.Context, id string, fn func(s *models.GameSession, now time.Time) error) error {
	now := a.clock.Now()
	return a.repo.Mutate(ctx, id, func(s *models.GameSession) error {
		if a.IsExpired(s, now) {
			return ErrSessionNotFound
		}
		return fn(s, now)
	})
}
