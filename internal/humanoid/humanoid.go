// -- internal/humanoid/humanoid.go --
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config shapes the pacing of a session. Zero durations disable the
// corresponding pause.
type Config struct {
	// ClickHoldMin and ClickHoldMax bound how long a button stays pressed.
	ClickHoldMin time.Duration
	ClickHoldMax time.Duration

	// KeyDelay is the per-character delay used while typing.
	KeyDelay time.Duration

	// MoveStepPixels is the nominal distance covered by one pointer step.
	// MoveMaxSteps caps the number of intermediate events per movement.
	MoveStepPixels float64
	MoveMaxSteps   int
	// MoveStepDelay is the pause between pointer steps.
	MoveStepDelay time.Duration

	// Rng drives the randomized parts of the model. Nil seeds from the clock.
	Rng *rand.Rand
}

// DefaultConfig returns the pacing used by the desktop bridge.
func DefaultConfig() Config {
	return Config{
		ClickHoldMin:   60 * time.Millisecond,
		ClickHoldMax:   120 * time.Millisecond,
		KeyDelay:       20 * time.Millisecond,
		MoveStepPixels: 40,
		MoveMaxSteps:   25,
		MoveStepDelay:  8 * time.Millisecond,
	}
}

// Humanoid paces pointer and keyboard input so the target applications see
// ordinary user events instead of instantaneous jumps.
type Humanoid struct {
	cfg      Config
	executor Executor
	logger   *zap.Logger

	mu                 sync.Mutex
	rng                *rand.Rand
	currentPos         Vector2D
	currentButtonState MouseButton
	positionKnown      bool
}

// New creates a Humanoid driving executor.
func New(cfg Config, executor Executor, logger *zap.Logger) *Humanoid {
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.ClickHoldMax < cfg.ClickHoldMin {
		cfg.ClickHoldMax = cfg.ClickHoldMin
	}
	return &Humanoid{
		cfg:                cfg,
		executor:           executor,
		logger:             logger.Named("humanoid"),
		rng:                rng,
		currentButtonState: ButtonNone,
	}
}

// Position returns the last pointer position the humanoid produced.
func (h *Humanoid) Position() (Vector2D, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos, h.positionKnown
}

// SetPosition seeds the starting point of the next movement, typically from
// the real pointer location.
func (h *Humanoid) SetPosition(x, y int) {
	h.mu.Lock()
	h.currentPos = vec(x, y)
	h.positionKnown = true
	h.mu.Unlock()
}
