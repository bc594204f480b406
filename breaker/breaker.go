package breaker

import (
	"sync"
	"time"

	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
)

// State is the circuit state for one resource kind.
type State int

const (
	// StateClosed allows all calls; consecutive failures are counted.
	StateClosed State = iota
	// StateOpen refuses all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows exactly one trial call through.
	StateHalfOpen
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings tunes one resource kind's breaker.
type Settings struct {
	// Threshold is the consecutive failure count that opens the circuit.
	Threshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call
	// is allowed.
	RecoveryTimeout time.Duration
}

// DefaultRecoveryTimeout applies to every kind unless overridden.
const DefaultRecoveryTimeout = 60 * time.Second

// DefaultSettings returns the breaker defaults for a resource kind:
// database 3 failures, external API 5, filesystem 2, other 5.
func DefaultSettings(kind core.ResourceKind) Settings {
	switch kind {
	case core.ResourceKindDatabase:
		return Settings{Threshold: 3, RecoveryTimeout: DefaultRecoveryTimeout}
	case core.ResourceKindFilesystem:
		return Settings{Threshold: 2, RecoveryTimeout: DefaultRecoveryTimeout}
	default:
		return Settings{Threshold: 5, RecoveryTimeout: DefaultRecoveryTimeout}
	}
}

// kindState is the mutable per-kind circuit data, guarded by Breaker.mu.
type kindState struct {
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// Options configures a Breaker.
type Options struct {
	// Settings overrides the per-kind defaults.
	Settings map[core.ResourceKind]Settings
	// Logger receives state transition logs. Defaults to NoOp.
	Logger logging.Logger
	// Now substitutes the clock, for tests.
	Now func() time.Time
}

// Breaker tracks failure counters and circuit state per resource kind. It is
// safe for concurrent use across runs.
type Breaker struct {
	mu       sync.Mutex
	kinds    map[core.ResourceKind]*kindState
	settings map[core.ResourceKind]Settings
	logger   logging.Logger
	now      func() time.Time
}

// New constructs a Breaker with per-kind default settings and optional
// overrides.
func New(optFns ...func(o *Options)) *Breaker {
	opts := Options{
		Settings: map[core.ResourceKind]Settings{},
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Breaker{
		kinds:    map[core.ResourceKind]*kindState{},
		settings: opts.Settings,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// WithSettings overrides the breaker settings for one resource kind.
func WithSettings(kind core.ResourceKind, s Settings) func(o *Options) {
	return func(o *Options) { o.Settings[kind] = s }
}

// WithLogger sets the transition logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) func(o *Options) {
	return func(o *Options) { o.Now = now }
}

func (b *Breaker) settingsFor(kind core.ResourceKind) Settings {
	if s, ok := b.settings[kind]; ok {
		return s
	}
	return DefaultSettings(kind)
}

func (b *Breaker) stateFor(kind core.ResourceKind) *kindState {
	ks, ok := b.kinds[kind]
	if !ok {
		ks = &kindState{state: StateClosed}
		b.kinds[kind] = ks
	}
	return ks
}

// Allow is the read-only admission check for lookups. It refuses with a
// core.CircuitOpenError only while the circuit is open and the recovery
// timeout has not yet elapsed. It never changes state and never consumes the
// half-open trial slot; call paths that perform a recordable operation go
// through AllowTrial paired with Record.
func (b *Breaker) Allow(resource string, kind core.ResourceKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(kind)
	if ks.state == StateOpen && b.now().Sub(ks.openedAt) < b.settingsFor(kind).RecoveryTimeout {
		return &core.CircuitOpenError{Resource: resource, Kind: kind}
	}
	return nil
}

// AllowTrial admits a call whose outcome will be fed back via Record. While
// open it returns a core.CircuitOpenError; once the recovery timeout has
// elapsed the circuit moves to half-open and exactly one trial call passes.
// Every nil return must be matched by a Record so the trial slot resolves.
func (b *Breaker) AllowTrial(resource string, kind core.ResourceKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(kind)
	switch ks.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(ks.openedAt) < b.settingsFor(kind).RecoveryTimeout {
			return &core.CircuitOpenError{Resource: resource, Kind: kind}
		}
		ks.state = StateHalfOpen
		ks.trialInFlight = true
		b.logger.Info("Circuit half-open, allowing trial call", "kind", kind.String(), "resource", resource)
		return nil
	case StateHalfOpen:
		if ks.trialInFlight {
			return &core.CircuitOpenError{Resource: resource, Kind: kind}
		}
		ks.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// Record feeds a call outcome into the circuit. A nil error resets the
// failure counter (and closes a half-open circuit); a non-nil error counts
// toward the threshold (and re-opens a half-open circuit immediately).
func (b *Breaker) Record(resource string, kind core.ResourceKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(kind)
	if err == nil {
		if ks.state != StateClosed {
			b.logger.Info("Circuit closed after successful trial", "kind", kind.String(), "resource", resource)
		}
		ks.state = StateClosed
		ks.failures = 0
		ks.trialInFlight = false
		return
	}

	switch ks.state {
	case StateHalfOpen:
		b.open(ks, kind, resource)
	case StateClosed:
		ks.failures++
		if ks.failures >= b.settingsFor(kind).Threshold {
			b.open(ks, kind, resource)
		}
	case StateOpen:
		// Already open; keep the original openedAt so recovery is measured
		// from the moment the circuit tripped.
	}
}

// open transitions to StateOpen; caller must hold b.mu.
func (b *Breaker) open(ks *kindState, kind core.ResourceKind, resource string) {
	ks.state = StateOpen
	ks.openedAt = b.now()
	ks.trialInFlight = false
	b.logger.Warn("Circuit opened", "kind", kind.String(), "resource", resource, "failures", ks.failures)
}

// Trip forces the circuit for a kind open immediately, regardless of the
// failure counter. Used by the runtime validation phase when a health check
// fails: the resource is degraded without waiting for threshold failures.
func (b *Breaker) Trip(resource string, kind core.ResourceKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open(b.stateFor(kind), kind, resource)
}

// State returns the current circuit state for a kind.
func (b *Breaker) State(kind core.ResourceKind) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(kind).state
}

// Failures returns the consecutive failure count for a kind.
func (b *Breaker) Failures(kind core.ResourceKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(kind).failures
}
