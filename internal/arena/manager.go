package arena

import "fmt"

const (
	// DefaultInitialCapacity is the size of a fresh arena (256 KiB).
	DefaultInitialCapacity = 256 << 10

	// DefaultResetThreshold is the allocated size above which Manage rewinds the arena (16 MiB).
	DefaultResetThreshold = 16 << 20

	// DefaultFreeThreshold is the allocated size above which Manage recreates the arena (32 MiB).
	DefaultFreeThreshold = 32 << 20

	// DefaultMaxBytes caps a single arena (1 GiB).
	DefaultMaxBytes = 1 << 30

	// DefaultManageEvery is how many elements pass between policy checks.
	DefaultManageEvery = 64
)

// Config configures an arena and its usage policy.
type Config struct {
	// InitialCapacity is the size of the first chunk and of a freed arena.
	InitialCapacity int

	// ResetThreshold triggers a rewind that keeps capacity.
	ResetThreshold int

	// FreeThreshold triggers a drop-and-recreate at InitialCapacity.
	FreeThreshold int

	// MaxBytes bounds total chunk capacity. Growth past it is an
	// out-of-memory condition.
	MaxBytes int

	// ManageEvery is the number of Tick calls between Manage checks.
	ManageEvery int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: DefaultInitialCapacity,
		ResetThreshold:  DefaultResetThreshold,
		FreeThreshold:   DefaultFreeThreshold,
		MaxBytes:        DefaultMaxBytes,
		ManageEvery:     DefaultManageEvery,
	}
}

// ApplyDefaults fills zero fields with the stock values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = d.InitialCapacity
	}
	if c.ResetThreshold <= 0 {
		c.ResetThreshold = d.ResetThreshold
	}
	if c.FreeThreshold <= 0 {
		c.FreeThreshold = d.FreeThreshold
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.ManageEvery <= 0 {
		c.ManageEvery = d.ManageEvery
	}
}

// Validate checks the thresholds are ordered.
func (c Config) Validate() error {
	if c.ResetThreshold >= c.FreeThreshold {
		return fmt.Errorf("arena: reset threshold %d must be below free threshold %d", c.ResetThreshold, c.FreeThreshold)
	}
	if c.InitialCapacity > c.MaxBytes {
		return fmt.Errorf("arena: initial capacity %d exceeds max bytes %d", c.InitialCapacity, c.MaxBytes)
	}
	return nil
}

// Action is what a Manage call did.
type Action int

const (
	ActionNone Action = iota
	ActionReset
	ActionFree
)

func (a Action) String() string {
	switch a {
	case ActionReset:
		return "reset"
	case ActionFree:
		return "free"
	default:
		return "none"
	}
}

// Stats counts policy actions over a manager's lifetime.
type Stats struct {
	Resets       int
	Frees        int
	PeakCapacity int
}

// Manager owns one arena and applies the reset/free policy to it.
type Manager struct {
	arena *Arena
	cfg   Config
	ticks int
	stats Stats
}

// NewManager creates a manager with a fresh arena. Zero config fields take
// their defaults.
func NewManager(cfg Config) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		arena: New(cfg.InitialCapacity, cfg.MaxBytes),
		cfg:   cfg,
		stats: Stats{PeakCapacity: cfg.InitialCapacity},
	}
}

// Arena exposes the managed arena.
func (m *Manager) Arena() *Arena { return m.arena }

// Alloc allocates from the managed arena.
func (m *Manager) Alloc(n int) []byte { return m.arena.Alloc(n) }

// Manage applies the threshold policy once.
func (m *Manager) Manage() Action {
	if c := m.arena.Capacity(); c > m.stats.PeakCapacity {
		m.stats.PeakCapacity = c
	}
	switch used := m.arena.Allocated(); {
	case used > m.cfg.FreeThreshold:
		m.arena.Free()
		m.stats.Frees++
		return ActionFree
	case used > m.cfg.ResetThreshold:
		m.arena.Reset()
		m.stats.Resets++
		return ActionReset
	}
	return ActionNone
}

// Tick records one processed element and runs Manage every ManageEvery ticks.
func (m *Manager) Tick() Action {
	m.ticks++
	if m.ticks < m.cfg.ManageEvery {
		return ActionNone
	}
	m.ticks = 0
	return m.Manage()
}

// Stats returns the policy counters.
func (m *Manager) Stats() Stats { return m.stats }
