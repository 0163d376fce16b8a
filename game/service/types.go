package service

import (
	"strings"
	"sync"
	"time"

	"github.com/wricardo/scratchcard/game/engine"
)

// Session is one scratch card. The embedded mutex serializes every read and
// mutation of Engine and LastActivityAt.
type Session struct {
	sync.Mutex

	Code           string
	ConfigName     string
	Engine         *engine.GameEngine
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// CanonicalCode is the key under which a session code is stored and locked.
// Codes are case-insensitive.
func CanonicalCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// CreateRequest selects the configuration of a new session: an explicit
// Config wins over a named Preset; neither means the default preset.
type CreateRequest struct {
	Preset string             `json:"preset,omitempty"`
	Config *engine.GameConfig `json:"config,omitempty"`
}

// SessionInfo summarizes a session for listings. It never carries the
// manager secret or the winning value thresholds.
type SessionInfo struct {
	Code           string     `json:"session"`
	ConfigName     string     `json:"config_name,omitempty"`
	GridSize       int        `json:"grid_size"`
	ScratchedCount int        `json:"scratched_count"`
	Locked         bool       `json:"locked"`
	LockExpiresAt  *time.Time `json:"lock_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// PublicState is what players see of a session. Hidden cells are null in
// Scratched and winning values are listed without thresholds.
type PublicState struct {
	Code          string     `json:"session"`
	GridSize      int        `json:"grid_size"`
	WinningValues []int      `json:"winning_values"`
	Scratched     []*int     `json:"scratched"`
	Revealed      []bool     `json:"revealed"`
	RevealedCount int        `json:"revealed_count"`
	Locked        bool       `json:"locked"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
}

// LockInfo is returned to the holder after acquire or heartbeat.
type LockInfo struct {
	Code       string    `json:"session"`
	HolderID   string    `json:"holder_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl_seconds"`
	Mode       string    `json:"mode"`
}

// RevealOutcome is the result of scratching one cell. RevealedCount includes
// the cell just scratched.
type RevealOutcome struct {
	Code            string          `json:"session"`
	Index           int             `json:"index"`
	Value           int             `json:"value"`
	Winning         bool            `json:"winning"`
	AlreadyRevealed bool            `json:"already_revealed,omitempty"`
	RevealedCount   int             `json:"revealed_count"`
	Progress        engine.Progress `json:"progress"`
	LockReleased    bool            `json:"lock_released,omitempty"`
}

// ConfigInfo provides information about a preset configuration
type ConfigInfo struct {
	Filename     string `json:"filename"`
	ConfigID     string `json:"config_id"` // The identifier to use for session creation
	Name         string `json:"name"`      // Display name
	Description  string `json:"description"`
	GridSize     int    `json:"grid_size"`
	WinningCount int    `json:"winning_count"`
}
