package gatekeeper

import (
	"context"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// RotationState identifies where the scheduler sits in its lifecycle.
type RotationState string

const (
	RotationIdle      RotationState = "idle"
	RotationScheduled RotationState = "scheduled"
	RotationRotating  RotationState = "rotating"
	RotationRetrying  RotationState = "retrying"
)

const (
	defaultRotationInterval = time.Minute
	defaultGracePeriod      = 5 * time.Minute
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 500 * time.Millisecond
	defaultMaxBackoff       = 10 * time.Second
)

// StoredToken is the holder-owned token pair. It is mutated only by a
// successful rotation and destroyed on logout or revocation.
type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenStore persists the held token between rotations. The storage mechanism
// (local file, secure cookie, keychain) is the caller's concern.
type TokenStore interface {
	Load(ctx context.Context) (StoredToken, error)
	Save(ctx context.Context, token StoredToken) error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token StoredToken
}

// NewMemoryTokenStore seeds the store with an initial token.
func NewMemoryTokenStore(token StoredToken) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

// Load satisfies the TokenStore interface.
func (s *MemoryTokenStore) Load(_ context.Context) (StoredToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Save satisfies the TokenStore interface.
func (s *MemoryTokenStore) Save(_ context.Context, token StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// RefreshFunc exchanges the current token for a new pair at the external
// refresh endpoint.
type RefreshFunc func(ctx context.Context, current StoredToken) (StoredToken, error)

// RotationConfig holds scheduler options with documented defaults.
type RotationConfig struct {
	// Interval is the baseline cadence for expiry checks. Default 1m.
	Interval time.Duration
	// GracePeriod is the lead time before expiry in which rotation must
	// happen. Default 5m.
	GracePeriod time.Duration
	// MaxRetries bounds automatic retry attempts after a failed refresh.
	// Default 3.
	MaxRetries int
	// DisableAutoRetry turns off retry with exponential backoff after a
	// failed refresh. Retries are on by default.
	DisableAutoRetry bool
	// InitialBackoff seeds the retry backoff. Default 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry backoff. Default 10s.
	MaxBackoff time.Duration
}

// Validate checks the configuration at construction time.
func (c RotationConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.GracePeriod, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.InitialBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoff, validation.Min(time.Duration(0))),
	)
}

func (c RotationConfig) withDefaults() RotationConfig {
	if c.Interval <= 0 {
		c.Interval = defaultRotationInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// RotationObserver receives rotation outcomes. Callbacks fire outside the
// scheduler mutex; implementations may block briefly but should not rotate.
type RotationObserver struct {
	OnRotationComplete func(token StoredToken)
	OnRotationError    func(err error)
}

func (o RotationObserver) complete(token StoredToken) {
	if o.OnRotationComplete != nil {
		o.OnRotationComplete(token)
	}
}

func (o RotationObserver) failed(err error) {
	if o.OnRotationError != nil {
		o.OnRotationError(err)
	}
}

// RotationStatus is a point-in-time snapshot of the scheduler.
type RotationStatus struct {
	State          RotationState
	RetryCount     int
	LastRotationAt time.Time
	LastError      error
}

// RotationScheduler proactively refreshes a held token before its grace
// period elapses. Exactly one rotation may be in flight at a time; a tick
// arriving while already rotating is a no-op. Stop cancels all pending timers
// and guarantees no further refresh calls.
type RotationScheduler struct {
	store    TokenStore
	refresh  RefreshFunc
	cfg      RotationConfig
	observer RotationObserver
	sink     ActivitySink
	logger   Logger
	nowFn    func() time.Time

	mu             sync.Mutex
	state          RotationState
	timer          *time.Timer
	cancel         context.CancelFunc
	baseCtx        context.Context
	running        bool
	rotating       bool
	retryCount     int
	lastRotationAt time.Time
	lastError      error
}

// SchedulerOption customizes a RotationScheduler.
type SchedulerOption func(*RotationScheduler)

// WithRotationObserver attaches completion and error callbacks.
func WithRotationObserver(observer RotationObserver) SchedulerOption {
	return func(s *RotationScheduler) {
		s.observer = observer
	}
}

// WithRotationSink attaches an ActivitySink receiving rotation outcomes.
func WithRotationSink(sink ActivitySink) SchedulerOption {
	return func(s *RotationScheduler) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithRotationLogger sets the scheduler logger.
func WithRotationLogger(logger Logger) SchedulerOption {
	return func(s *RotationScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRotationClock overrides the clock, mainly for tests.
func WithRotationClock(now func() time.Time) SchedulerOption {
	return func(s *RotationScheduler) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewRotationScheduler validates the configuration and returns an idle
// scheduler.
func NewRotationScheduler(store TokenStore, refresh RefreshFunc, cfg RotationConfig, opts ...SchedulerOption) (*RotationScheduler, error) {
	if store == nil {
		return nil, goerrors.New("token store is required", goerrors.CategoryBadInput)
	}
	if refresh == nil {
		return nil, goerrors.New("refresh function is required", goerrors.CategoryBadInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid rotation config")
	}

	s := &RotationScheduler{
		store:   store,
		refresh: refresh,
		cfg:     cfg.withDefaults(),
		sink:    noopActivitySink{},
		logger:  defLogger{},
		nowFn:   utcNow,
		state:   RotationIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NeedsRotation reports whether the token's remaining lifetime is inside the
// grace period.
func (s *RotationScheduler) NeedsRotation(token StoredToken) bool {
	if token.ExpiresAt.IsZero() {
		return false
	}
	return token.ExpiresAt.Sub(s.nowFn()) <= s.cfg.GracePeriod
}

// Start arms the scheduler. It is a no-op when already running.
func (s *RotationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.retryCount = 0
	s.lastError = nil
	s.scheduleNextLocked()
}

// Stop cancels any pending timer and transitions to idle. No refresh calls
// happen after Stop returns.
func (s *RotationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *RotationScheduler) stopLocked() {
	s.running = false
	s.state = RotationIdle
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Status returns a snapshot of the scheduler state.
func (s *RotationScheduler) Status() RotationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RotationStatus{
		State:          s.state,
		RetryCount:     s.retryCount,
		LastRotationAt: s.lastRotationAt,
		LastError:      s.lastError,
	}
}

// RotateNow triggers an immediate rotation regardless of scheduled timing,
// for callers that detect an imminent 401. It returns ErrRotationInFlight
// when a rotation is already running.
func (s *RotationScheduler) RotateNow(ctx context.Context) error {
	s.mu.Lock()
	if s.rotating {
		s.mu.Unlock()
		return ErrRotationInFlight
	}
	s.rotating = true
	s.state = RotationRotating
	s.mu.Unlock()

	return s.rotate(ctx, true)
}

// scheduleNextLocked arms the timer for min(interval, time until the grace
// period begins). Callers hold s.mu.
func (s *RotationScheduler) scheduleNextLocked() {
	if !s.running {
		return
	}
	delay := s.cfg.Interval
	if token, err := s.store.Load(s.baseCtx); err == nil && !token.ExpiresAt.IsZero() {
		untilGrace := token.ExpiresAt.Add(-s.cfg.GracePeriod).Sub(s.nowFn())
		if untilGrace < 0 {
			untilGrace = 0
		}
		if untilGrace < delay {
			delay = untilGrace
		}
	}

	s.state = RotationScheduled
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.tick)
}

func (s *RotationScheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.rotating {
		// a rotation is already in flight, this tick is a no-op
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx

	token, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("rotation tick could not load token: %v", err)
		s.scheduleNextLocked()
		s.mu.Unlock()
		return
	}

	if !s.needsRotationLocked(token) {
		s.scheduleNextLocked()
		s.mu.Unlock()
		return
	}

	s.rotating = true
	s.state = RotationRotating
	s.mu.Unlock()

	_ = s.rotate(ctx, false)
}

func (s *RotationScheduler) needsRotationLocked(token StoredToken) bool {
	if token.ExpiresAt.IsZero() {
		return false
	}
	return token.ExpiresAt.Sub(s.nowFn()) <= s.cfg.GracePeriod
}

// rotate performs one refresh attempt. The caller must have set rotating and
// the Rotating state under the mutex.
func (s *RotationScheduler) rotate(ctx context.Context, manual bool) error {
	current, err := s.store.Load(ctx)
	if err != nil {
		return s.rotationFailed(ctx, manual, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load stored token"))
	}

	refreshed, err := s.refresh(ctx, current)
	if err != nil {
		return s.rotationFailed(ctx, manual, goerrors.Wrap(err, ErrRotationFailed.Category, ErrRotationFailed.Message).
			WithTextCode(ErrRotationFailed.TextCode))
	}

	if !refreshed.ExpiresAt.After(current.ExpiresAt) {
		return s.rotationFailed(ctx, manual, goerrors.New(
			"refresh endpoint returned a token that does not outlive the current one",
			goerrors.CategoryOperation,
		).WithTextCode(TextCodeRotationFailed))
	}

	if err := s.store.Save(ctx, refreshed); err != nil {
		return s.rotationFailed(ctx, manual, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist rotated token"))
	}

	s.mu.Lock()
	s.rotating = false
	s.retryCount = 0
	s.lastError = nil
	s.lastRotationAt = s.nowFn()
	if s.running {
		s.scheduleNextLocked()
	} else {
		s.state = RotationIdle
	}
	s.mu.Unlock()

	s.logger.Info("token rotated, new expiry %s", refreshed.ExpiresAt.Format(time.RFC3339))
	s.emitActivity(ctx, ActivityEventRotationSuccess, map[string]any{
		"expires_at": refreshed.ExpiresAt,
		"manual":     manual,
	})
	s.observer.complete(refreshed)
	return nil
}

func (s *RotationScheduler) rotationFailed(ctx context.Context, manual bool, err error) error {
	s.mu.Lock()
	s.rotating = false
	s.lastError = err

	retry := !manual && !s.cfg.DisableAutoRetry && s.running && s.retryCount < s.cfg.MaxRetries
	switch {
	case retry:
		s.retryCount++
		s.state = RotationRetrying
		delay := s.nextBackoffLocked(s.retryCount)
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(delay, s.retryTick)
	case manual && s.running:
		// a failed manual trigger leaves the background cadence armed
		s.scheduleNextLocked()
	default:
		// retries exhausted or disabled: surface the error and park until
		// manually restarted
		s.state = RotationIdle
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.running = false
	}
	retryCount := s.retryCount
	s.mu.Unlock()

	s.logger.Error("token rotation failed (retry_count=%d will_retry=%t): %v", retryCount, retry, err)
	s.emitActivity(ctx, ActivityEventRotationFailure, map[string]any{
		"error":       err.Error(),
		"retry_count": retryCount,
		"will_retry":  retry,
	})
	s.observer.failed(err)
	return err
}

func (s *RotationScheduler) retryTick() {
	s.mu.Lock()
	if !s.running || s.rotating {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.rotating = true
	s.state = RotationRotating
	s.mu.Unlock()

	_ = s.rotate(ctx, false)
}

func (s *RotationScheduler) nextBackoffLocked(attempt int) time.Duration {
	delay := s.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if delay > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return delay
}

func (s *RotationScheduler) emitActivity(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: s.nowFn(),
	}
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink rejected rotation event: %v", err)
	}
}
