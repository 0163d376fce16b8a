// Command validate checks the preset JSON files in the ../configs directory.
// It checks:
//   - JSON structure, rejecting unknown fields
//   - grid size and winning value ranges, as the server does on load
//   - thresholds that deflection cannot honor with the given grid
//   - manager secrets committed into presets
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/scratchcard/game/engine"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File     string
	Valid    bool
	Errors   []string
	Warnings []string
}

// validateConfig loads and validates a single preset file.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	var config engine.GameConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	if strings.TrimSpace(config.Name) == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "name is required")
	}

	if err := engine.ValidateGameConfig(&config); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if config.ManagerSecret != "" {
		result.Warnings = append(result.Warnings, "manager_secret is set; every session created from this preset shares it")
	}
	if len(config.WinNumbers) > 0 {
		result.Warnings = append(result.Warnings, "win_numbers is the legacy format; prefer winning_values")
	}

	legacy := len(config.WinNumbers) > 0
	config.Normalize()
	result.Warnings = append(result.Warnings, thresholdWarnings(&config)...)

	if result.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Name: %s", config.Name))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Grid: %d cells", config.GridSize))
		for _, wv := range config.WinningValues {
			result.Errors = append(result.Errors, fmt.Sprintf("✓ Value %d after %d reveals", wv.Value, wv.Threshold))
		}
		if legacy {
			result.Errors = append(result.Errors, "✓ Legacy format normalized")
		}
	}

	return result
}

// thresholdWarnings flags thresholds deflection may not be able to honor.
// A winning value can only be pushed away while a hidden non-winning cell
// remains, so with k winning values any threshold above gridSize-k can be
// forced by scratching in the right order.
func thresholdWarnings(config *engine.GameConfig) []string {
	var warnings []string
	limit := config.GridSize - len(config.WinningValues)
	for _, wv := range config.WinningValues {
		if wv.Threshold > limit {
			warnings = append(warnings, fmt.Sprintf("threshold %d for value %d exceeds %d; it may be exposed early", wv.Threshold, wv.Value, limit))
		}
	}
	if len(config.WinningValues) == 0 {
		warnings = append(warnings, "no winning values; every card loses")
	}
	return warnings
}

// main scans ../configs for *.json files and validates each one, printing a
// concise report and exiting with non-zero status if any are invalid.
func main() {
	configDir := "../configs"
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}
	files, err := filepath.Glob(filepath.Join(configDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding config files: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateConfig(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
		for _, w := range result.Warnings {
			fmt.Println("  ⚠️  " + w)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All configurations are valid!")
	} else {
		fmt.Println("❌ Some configurations have errors")
		os.Exit(1)
	}
}
