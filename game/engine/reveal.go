package engine

import "fmt"

// Reveal scratches the cell at index.
//
// A cell that is already revealed returns its stored value and nothing else
// happens. Otherwise, when the cell holds a winning value whose threshold is
// above the number of cells revealed so far, the value is exchanged with a
// random hidden non-winning cell before the cell is exposed. If no such cell
// exists the winning value is exposed as-is, so a reveal always completes.
func (s *GameState) Reveal(index int, thresholds map[int]int, rng Rand) (RevealResult, error) {
	if index < 0 || index >= len(s.Numbers) {
		return RevealResult{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, index, len(s.Numbers))
	}

	revealedCount := s.RevealedCount()
	if s.Revealed[index] {
		value := s.Scratched[index]
		_, winning := thresholds[value]
		return RevealResult{
			Index:           index,
			Value:           value,
			Winning:         winning,
			AlreadyRevealed: true,
			SwapTarget:      -1,
			RevealedCount:   revealedCount,
		}, nil
	}

	result := RevealResult{Index: index, SwapTarget: -1, RevealedCount: revealedCount}
	candidate := s.Numbers[index]

	if threshold, winning := thresholds[candidate]; winning && revealedCount < threshold {
		targets := s.swapTargets(index, thresholds)
		if len(targets) > 0 {
			if rng == nil {
				rng = DefaultRand()
			}
			target := targets[rng.IntN(len(targets))]
			s.Numbers[index], s.Numbers[target] = s.Numbers[target], s.Numbers[index]
			candidate = s.Numbers[index]
			result.Deflected = true
			result.SwapTarget = target
		}
	}

	s.Scratched[index] = candidate
	s.Revealed[index] = true

	_, result.Winning = thresholds[candidate]
	result.Value = candidate
	return result, nil
}

// swapTargets lists hidden cells other than index that hold a non-winning value.
func (s *GameState) swapTargets(index int, thresholds map[int]int) []int {
	var targets []int
	for j, n := range s.Numbers {
		if j == index || s.Revealed[j] {
			continue
		}
		if _, winning := thresholds[n]; winning {
			continue
		}
		targets = append(targets, j)
	}
	return targets
}
