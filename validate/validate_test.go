package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func hasMessage(messages []string, substr string) bool {
	for _, m := range messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestValidateConfig_ValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"name": "Test Config",
		"description": "Test configuration",
		"grid_size": 9,
		"winning_values": [{"value": 7, "threshold": 3}]
	}`)

	result := validateConfig(path)
	if !result.Valid {
		t.Errorf("Expected valid config, but got errors: %v", result.Errors)
	}
	if result.File != "test_config.json" {
		t.Errorf("Expected file name test_config.json, got %s", result.File)
	}
	if !hasMessage(result.Errors, "✓ Value 7 after 3 reveals") {
		t.Errorf("Expected value summary, got %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
}

func TestValidateConfig_LegacyFormat(t *testing.T) {
	path := writeConfig(t, `{"name": "Legacy", "grid_size": 16, "win_numbers": [4, 11], "progress_threshold": 6}`)

	result := validateConfig(path)
	if !result.Valid {
		t.Fatalf("Expected valid config, got %v", result.Errors)
	}
	if !hasMessage(result.Errors, "✓ Value 11 after 6 reveals") || !hasMessage(result.Errors, "Legacy format normalized") {
		t.Errorf("Expected normalized values, got %v", result.Errors)
	}
	if !hasMessage(result.Warnings, "legacy format") {
		t.Errorf("Expected legacy warning, got %v", result.Warnings)
	}
}

func TestValidateConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid json", `{"name": "test", invalid json}`, "Invalid JSON"},
		{"unknown field", `{"name": "test", "grid_size": 9, "layout": ["RRR"]}`, "unknown field"},
		{"missing name", `{"grid_size": 9}`, "name is required"},
		{"grid too large", `{"name": "big", "grid_size": 401}`, "grid_size must be between"},
		{"value outside grid", `{"name": "x", "grid_size": 9, "winning_values": [{"value": 10, "threshold": 1}]}`, "outside 1..9"},
		{"duplicate value", `{"name": "x", "grid_size": 9, "winning_values": [{"value": 3, "threshold": 1}, {"value": 3, "threshold": 2}]}`, "listed twice"},
		{"threshold too high", `{"name": "x", "grid_size": 9, "winning_values": [{"value": 3, "threshold": 9}]}`, "threshold for 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateConfig(writeConfig(t, tt.content))
			if result.Valid {
				t.Fatal("Expected invalid config")
			}
			if !hasMessage(result.Errors, tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, result.Errors)
			}
		})
	}
}

func TestValidateConfig_MissingFile(t *testing.T) {
	result := validateConfig(filepath.Join(t.TempDir(), "nope.json"))
	if result.Valid {
		t.Error("Expected invalid result for missing file")
	}
	if !hasMessage(result.Errors, "Failed to read file") {
		t.Errorf("Expected read error, got %v", result.Errors)
	}
}

func TestValidateConfig_Warnings(t *testing.T) {
	path := writeConfig(t, `{
		"name": "Risky",
		"grid_size": 4,
		"manager_secret": "hunter2",
		"winning_values": [{"value": 1, "threshold": 1}, {"value": 2, "threshold": 3}]
	}`)

	result := validateConfig(path)
	if !result.Valid {
		t.Fatalf("Expected valid config, got %v", result.Errors)
	}
	if !hasMessage(result.Warnings, "manager_secret") {
		t.Errorf("Expected secret warning, got %v", result.Warnings)
	}
	if !hasMessage(result.Warnings, "threshold 3 for value 2 exceeds 2") {
		t.Errorf("Expected threshold warning, got %v", result.Warnings)
	}
}

func TestValidateConfig_ShippedPresets(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "configs", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Skip("no presets found")
	}
	for _, file := range files {
		result := validateConfig(file)
		if !result.Valid {
			t.Errorf("%s: %v", result.File, result.Errors)
		}
	}
}
