package engine

import "fmt"

// Engine provides the main interface for game operations
type Engine interface {
	// Game state management
	GetState() *GameState
	SetState(state *GameState) error
	Reset() *GameState

	// Scratching
	Reveal(index int) (RevealResult, error)
	Progress() Progress

	// Configuration
	GetConfig() *GameConfig
	Reconfigure(patch ConfigPatch) (*GameConfig, bool, error)
}

// GameEngine implements the Engine interface. It is not safe for concurrent
// use; callers serialize access per session.
type GameEngine struct {
	state      *GameState
	config     *GameConfig
	thresholds map[int]int
	rng        Rand
}

// NewEngine creates a new game engine with the provided configuration
func NewEngine(config *GameConfig) (*GameEngine, error) {
	return NewEngineWithRand(config, DefaultRand())
}

// NewEngineWithRand creates a game engine drawing randomness from rng.
func NewEngineWithRand(config *GameConfig, rng Rand) (*GameEngine, error) {
	if err := ValidateGameConfig(config); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = DefaultRand()
	}

	cfg := config.Clone()
	cfg.Normalize()

	return &GameEngine{
		config:     cfg,
		thresholds: cfg.Thresholds(),
		rng:        rng,
		state:      NewGameState(cfg.GridSize, rng),
	}, nil
}

// GetState returns the current game state
func (e *GameEngine) GetState() *GameState {
	return e.state
}

// SetState sets the game state (used for persistence loading)
func (e *GameEngine) SetState(state *GameState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	if err := state.Validate(); err != nil {
		return err
	}
	if state.GridSize != e.config.GridSize {
		return fmt.Errorf("state grid_size %d does not match config grid_size %d", state.GridSize, e.config.GridSize)
	}
	e.state = state
	return nil
}

// Reset deals a new permutation and hides every cell. Configuration is preserved.
func (e *GameEngine) Reset() *GameState {
	e.state = NewGameState(e.config.GridSize, e.rng)
	return e.state
}

// Reveal scratches one cell using the configured winning values.
func (e *GameEngine) Reveal(index int) (RevealResult, error) {
	return e.state.Reveal(index, e.thresholds, e.rng)
}

// IsWinning reports whether value is a configured winning value.
func (e *GameEngine) IsWinning(value int) bool {
	_, ok := e.thresholds[value]
	return ok
}

// Progress reports how many cells are scratched and whether every winning
// value is past its threshold.
func (e *GameEngine) Progress() Progress {
	scratched := e.state.RevealedCount()
	maxThreshold := e.config.MaxThreshold()
	return Progress{
		GridSize:         e.state.GridSize,
		ScratchedCount:   scratched,
		RemainingCount:   e.state.GridSize - scratched,
		MaxThreshold:     maxThreshold,
		ThresholdReached: scratched >= maxThreshold,
	}
}

// GetConfig returns a copy of the current configuration
func (e *GameEngine) GetConfig() *GameConfig {
	return e.config.Clone()
}

// Reconfigure applies a partial update. A grid size change regenerates the
// grid; the second return value reports whether that happened.
func (e *GameEngine) Reconfigure(patch ConfigPatch) (*GameConfig, bool, error) {
	next, err := patch.Apply(e.config)
	if err != nil {
		return nil, false, err
	}

	regenerated := next.GridSize != e.config.GridSize
	e.config = next
	e.thresholds = next.Thresholds()
	if regenerated {
		e.Reset()
	}
	return e.config.Clone(), regenerated, nil
}
