package engine

import "math/rand/v2"

// globalRand draws from the goroutine-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand returns the process-wide random source used when none is injected.
func DefaultRand() Rand { return globalRand{} }

// Generate returns a uniformly random permutation of 1..gridSize using a
// Fisher-Yates shuffle.
func Generate(gridSize int, rng Rand) []int {
	if gridSize <= 0 {
		return []int{}
	}
	if rng == nil {
		rng = DefaultRand()
	}

	numbers := make([]int, gridSize)
	for i := range numbers {
		numbers[i] = i + 1
	}
	for i := gridSize - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		numbers[i], numbers[j] = numbers[j], numbers[i]
	}
	return numbers
}

// NewGameState builds a fresh, fully hidden grid.
func NewGameState(gridSize int, rng Rand) *GameState {
	return &GameState{
		GridSize:  gridSize,
		Numbers:   Generate(gridSize, rng),
		Scratched: make([]int, gridSize),
		Revealed:  make([]bool, gridSize),
	}
}
