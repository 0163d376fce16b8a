package engine

import (
	"fmt"
	"sort"
)

// DefaultConfig returns the configuration a session gets when nothing else is specified.
func DefaultConfig() *GameConfig {
	return &GameConfig{
		Name:          "default",
		Description:   "Default 3x3 scratch card",
		GridSize:      DefaultGridSize,
		WinningValues: []WinningValue{},
	}
}

// Normalize folds the legacy WinNumbers/ProgressThreshold pair into WinningValues
// and sorts WinningValues by value. It is idempotent.
func (c *GameConfig) Normalize() {
	if len(c.WinNumbers) > 0 {
		threshold := c.legacyThreshold()
		for _, v := range c.WinNumbers {
			c.WinningValues = append(c.WinningValues, WinningValue{Value: v, Threshold: threshold})
		}
		c.WinNumbers = nil
		c.ProgressThreshold = nil
	}
	if c.WinningValues == nil {
		c.WinningValues = []WinningValue{}
	}
	sort.Slice(c.WinningValues, func(i, j int) bool {
		return c.WinningValues[i].Value < c.WinningValues[j].Value
	})
}

// legacyThreshold is the threshold shared by WinNumbers.
func (c *GameConfig) legacyThreshold() int {
	if c.ProgressThreshold == nil {
		return DefaultThreshold
	}
	return *c.ProgressThreshold
}

// Clone returns a deep copy of the configuration.
func (c *GameConfig) Clone() *GameConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.WinningValues = append([]WinningValue{}, c.WinningValues...)
	clone.WinNumbers = append([]int(nil), c.WinNumbers...)
	if c.ProgressThreshold != nil {
		threshold := *c.ProgressThreshold
		clone.ProgressThreshold = &threshold
	}
	return &clone
}

// Thresholds maps every winning value to its reveal threshold.
func (c *GameConfig) Thresholds() map[int]int {
	thresholds := make(map[int]int, len(c.WinningValues))
	for _, wv := range c.WinningValues {
		thresholds[wv.Value] = wv.Threshold
	}
	return thresholds
}

// Values returns the winning values without their thresholds.
func (c *GameConfig) Values() []int {
	values := make([]int, 0, len(c.WinningValues))
	for _, wv := range c.WinningValues {
		values = append(values, wv.Value)
	}
	return values
}

// MaxThreshold returns the highest threshold of any winning value, or 0 when there are none.
func (c *GameConfig) MaxThreshold() int {
	max := 0
	for _, wv := range c.WinningValues {
		if wv.Threshold > max {
			max = wv.Threshold
		}
	}
	return max
}

// ValidateGameConfig validates a game configuration. Errors wrap ErrInvalidConfig.
func ValidateGameConfig(config *GameConfig) error {
	if config == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}

	if config.GridSize < MinGridSize || config.GridSize > MaxGridSize {
		return fmt.Errorf("%w: grid_size must be between %d and %d, got %d",
			ErrInvalidConfig, MinGridSize, MaxGridSize, config.GridSize)
	}

	if config.ProgressThreshold != nil && *config.ProgressThreshold < 0 {
		return fmt.Errorf("%w: progress_threshold must not be negative, got %d", ErrInvalidConfig, *config.ProgressThreshold)
	}

	seen := make(map[int]bool)
	check := func(value, threshold int) error {
		if value < 1 || value > config.GridSize {
			return fmt.Errorf("%w: winning value %d outside 1..%d", ErrInvalidConfig, value, config.GridSize)
		}
		if seen[value] {
			return fmt.Errorf("%w: winning value %d listed twice", ErrInvalidConfig, value)
		}
		seen[value] = true
		if threshold < 0 || threshold >= config.GridSize {
			return fmt.Errorf("%w: threshold for %d must be between 0 and %d, got %d",
				ErrInvalidConfig, value, config.GridSize-1, threshold)
		}
		return nil
	}

	for _, wv := range config.WinningValues {
		if err := check(wv.Value, wv.Threshold); err != nil {
			return err
		}
	}
	legacyThreshold := config.legacyThreshold()
	for _, v := range config.WinNumbers {
		if err := check(v, legacyThreshold); err != nil {
			return err
		}
	}

	return nil
}

// Apply returns a copy of config with the patch applied. The result is
// normalized and validated; the receiver is never modified.
func (p ConfigPatch) Apply(config *GameConfig) (*GameConfig, error) {
	next := config.Clone()
	if p.GridSize != nil {
		next.GridSize = *p.GridSize
	}
	if p.WinningValues != nil {
		next.WinningValues = append([]WinningValue{}, (*p.WinningValues)...)
	}
	if len(p.WinNumbers) > 0 {
		next.WinningValues = []WinningValue{}
		next.WinNumbers = append([]int(nil), p.WinNumbers...)
		if p.ProgressThreshold != nil {
			threshold := *p.ProgressThreshold
			next.ProgressThreshold = &threshold
		}
	} else if p.ProgressThreshold != nil {
		// A bare threshold applies uniformly to the current winning values.
		if *p.ProgressThreshold < 0 {
			return nil, fmt.Errorf("%w: progress_threshold must not be negative, got %d", ErrInvalidConfig, *p.ProgressThreshold)
		}
		for i := range next.WinningValues {
			next.WinningValues[i].Threshold = *p.ProgressThreshold
		}
	}
	if p.ManagerSecret != nil {
		next.ManagerSecret = *p.ManagerSecret
	}

	if err := ValidateGameConfig(next); err != nil {
		return nil, err
	}
	next.Normalize()
	return next, nil
}

// IsEmpty reports whether the patch changes nothing.
func (p ConfigPatch) IsEmpty() bool {
	return p.GridSize == nil && p.WinningValues == nil && p.ManagerSecret == nil &&
		len(p.WinNumbers) == 0 && p.ProgressThreshold == nil
}
