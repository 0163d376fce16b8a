package engine

import (
	"errors"
	"fmt"
)

const (
	// Validation constants
	MinGridSize      = 1
	MaxGridSize      = 400
	DefaultGridSize  = 9
	DefaultThreshold = 3
)

var (
	ErrInvalidIndex  = errors.New("invalid cell index")
	ErrInvalidConfig = errors.New("invalid game configuration")
)

// Rand is the subset of *rand.Rand (math/rand/v2) the engine draws from.
type Rand interface {
	IntN(n int) int
}

// WinningValue is a value that may only be exposed once Threshold cells
// have already been revealed in the session.
type WinningValue struct {
	Value     int `json:"value"`
	Threshold int `json:"threshold"`
}

// GameConfig is the operator-controlled configuration of one session.
type GameConfig struct {
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description,omitempty"`
	GridSize      int            `json:"grid_size"`
	WinningValues []WinningValue `json:"winning_values"`
	ManagerSecret string         `json:"manager_secret,omitempty"`

	// Older presets carry one global threshold for a flat list of numbers.
	// Normalize folds them into WinningValues.
	// A nil ProgressThreshold means DefaultThreshold; 0 is a real threshold.
	WinNumbers        []int `json:"win_numbers,omitempty"`
	ProgressThreshold *int  `json:"progress_threshold,omitempty"`
}

// ConfigPatch is a partial update applied by Reconfigure. Nil fields are left untouched.
type ConfigPatch struct {
	GridSize      *int            `json:"grid_size,omitempty"`
	WinningValues *[]WinningValue `json:"winning_values,omitempty"`
	ManagerSecret *string         `json:"manager_secret,omitempty"`

	WinNumbers        []int `json:"win_numbers,omitempty"`
	ProgressThreshold *int  `json:"progress_threshold,omitempty"`
}

// GameState is the grid of one session. Numbers holds the value behind every
// cell; Scratched[i] is only meaningful when Revealed[i] is true.
type GameState struct {
	GridSize  int    `json:"grid_size"`
	Numbers   []int  `json:"numbers"`
	Scratched []int  `json:"scratched"`
	Revealed  []bool `json:"revealed"`
}

// RevealResult describes what a single reveal did.
type RevealResult struct {
	Index           int  `json:"index"`
	Value           int  `json:"value"`
	Winning         bool `json:"winning"`
	AlreadyRevealed bool `json:"already_revealed,omitempty"`
	Deflected       bool `json:"deflected,omitempty"`
	SwapTarget      int  `json:"-"`
	RevealedCount   int  `json:"revealed_count"`
}

// Progress summarizes how far a session has been played.
type Progress struct {
	GridSize         int  `json:"grid_size"`
	ScratchedCount   int  `json:"scratched_count"`
	RemainingCount   int  `json:"remaining_count"`
	MaxThreshold     int  `json:"progress_threshold"`
	ThresholdReached bool `json:"threshold_reached"`
}

// RevealedCount returns the number of cells already scratched.
func (s *GameState) RevealedCount() int {
	count := 0
	for _, r := range s.Revealed {
		if r {
			count++
		}
	}
	return count
}

// Clone returns a deep copy of the state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	return &GameState{
		GridSize:  s.GridSize,
		Numbers:   append([]int(nil), s.Numbers...),
		Scratched: append([]int(nil), s.Scratched...),
		Revealed:  append([]bool(nil), s.Revealed...),
	}
}

// Validate checks the structural invariants of a state loaded from storage.
func (s *GameState) Validate() error {
	if s.GridSize < MinGridSize || s.GridSize > MaxGridSize {
		return fmt.Errorf("state validation: grid_size must be between %d and %d, got %d", MinGridSize, MaxGridSize, s.GridSize)
	}
	if len(s.Numbers) != s.GridSize || len(s.Scratched) != s.GridSize || len(s.Revealed) != s.GridSize {
		return fmt.Errorf("state validation: numbers/scratched/revealed must all have length %d", s.GridSize)
	}
	seen := make([]bool, s.GridSize+1)
	for i, n := range s.Numbers {
		if n < 1 || n > s.GridSize || seen[n] {
			return fmt.Errorf("state validation: numbers must be a permutation of 1..%d, cell %d holds %d", s.GridSize, i, n)
		}
		seen[n] = true
	}
	for i, revealed := range s.Revealed {
		if revealed && s.Scratched[i] != s.Numbers[i] {
			return fmt.Errorf("state validation: cell %d revealed %d but holds %d", i, s.Scratched[i], s.Numbers[i])
		}
	}
	return nil
}
