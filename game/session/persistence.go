package session

import (
	"time"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/service"
)

// SessionPersistence defines the interface for persisting session snapshots
type SessionPersistence interface {
	// Save writes a snapshot, replacing any previous one for the same code
	Save(data *PersistedSessionData) error

	// Load retrieves a snapshot by code
	Load(code string) (*PersistedSessionData, error)

	// Delete removes a snapshot
	Delete(code string) error

	// ListAll returns all persisted session codes
	ListAll() ([]string, error)

	// Exists checks if a snapshot exists in storage
	Exists(code string) bool
}

// PersistedSessionData is the durable form of a session. Scratched holds
// null for hidden cells.
type PersistedSessionData struct {
	Code           string                `json:"code"`
	ConfigName     string                `json:"config_name,omitempty"`
	GridSize       int                   `json:"grid_size"`
	Numbers        []int                 `json:"numbers"`
	Scratched      []*int                `json:"scratched"`
	WinningValues  []engine.WinningValue `json:"winning_values"`
	ManagerSecret  string                `json:"manager_secret,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
}

// snapshot copies a session into its durable form. The caller holds sess.
func snapshot(sess *service.Session) *PersistedSessionData {
	state := sess.Engine.GetState()
	config := sess.Engine.GetConfig()

	data := &PersistedSessionData{
		Code:           sess.Code,
		ConfigName:     sess.ConfigName,
		GridSize:       state.GridSize,
		Numbers:        append([]int(nil), state.Numbers...),
		Scratched:      make([]*int, state.GridSize),
		WinningValues:  config.WinningValues,
		ManagerSecret:  config.ManagerSecret,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
	}
	for i, revealed := range state.Revealed {
		if revealed {
			v := state.Scratched[i]
			data.Scratched[i] = &v
		}
	}
	return data
}

// restore rebuilds a session from a snapshot, validating it on the way.
func restore(data *PersistedSessionData) (*service.Session, error) {
	config := &engine.GameConfig{
		Name:          data.ConfigName,
		GridSize:      data.GridSize,
		WinningValues: data.WinningValues,
		ManagerSecret: data.ManagerSecret,
	}
	eng, err := engine.NewEngine(config)
	if err != nil {
		return nil, err
	}

	state := &engine.GameState{
		GridSize:  data.GridSize,
		Numbers:   append([]int(nil), data.Numbers...),
		Scratched: make([]int, len(data.Scratched)),
		Revealed:  make([]bool, len(data.Scratched)),
	}
	for i, v := range data.Scratched {
		if v != nil {
			state.Scratched[i] = *v
			state.Revealed[i] = true
		}
	}
	if err := eng.SetState(state); err != nil {
		return nil, err
	}

	return &service.Session{
		Code:           service.CanonicalCode(data.Code),
		ConfigName:     data.ConfigName,
		Engine:         eng,
		CreatedAt:      data.CreatedAt,
		LastActivityAt: data.LastActivityAt,
	}, nil
}
