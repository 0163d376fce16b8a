// Package engine provides the core game logic for the scratch card game.
//
// The engine package implements:
//   - Grid generation as a Fisher-Yates permutation of 1..grid_size
//   - Threshold-gated reveals that relocate winning values which are not yet
//     allowed to appear into other hidden, non-winning cells
//   - Configuration validation and partial reconfiguration
//   - Progress reporting
//
// Core Types:
//
// GameEngine owns a GameConfig and a GameState. GameState holds the value
// behind every cell (Numbers) and the values already exposed (Scratched,
// Revealed). GameConfig lists the winning values and their thresholds.
//
// Usage:
//
//	eng, err := engine.NewEngine(&engine.GameConfig{
//		GridSize:      9,
//		WinningValues: []engine.WinningValue{{Value: 7, Threshold: 3}},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := eng.Reveal(0)
//
// Reveal Rules:
//
// A revealed cell never changes. A winning value is exposed only after at
// least its threshold of other cells have been revealed, unless every hidden
// cell left holds a winning value, in which case it is exposed immediately.
//
// GameEngine is not safe for concurrent use; the session layer serializes
// access per session.
package engine
