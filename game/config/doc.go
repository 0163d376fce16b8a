// Package config loads preset scratch card configurations.
//
// Presets are JSON files in the config directory; the file name without
// extension is the preset id used when creating a session:
//
//	{
//	  "name": "Classic",
//	  "description": "3x3 card, one prize after three scratches",
//	  "grid_size": 9,
//	  "winning_values": [{"value": 7, "threshold": 3}]
//	}
//
// Older presets using a flat "win_numbers" list with a single
// "progress_threshold" are accepted and normalized on load.
//
// classic.json is the default preset. Without it the first valid preset is
// used, and an empty directory falls back to a built-in 3x3 card.
package config
