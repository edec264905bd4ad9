package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/example/faceverify/internal/recognition"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// User is provisioned out of band and only read here.
type User struct {
	ID   string
	Name string
}

// FaceSample is one registered face. FaceID and FaceIDAt are the cached Azure face
// id and the time it was issued; they change together and nothing else changes.
type FaceSample struct {
	ID        string
	UserID    string
	Data      []byte
	FaceID    string
	FaceIDAt  time.Time
	CreatedAt time.Time
}

// VerificationResult is the append-only audit record of one verification attempt.
type VerificationResult struct {
	ID        string
	CreatedAt time.Time
	UserID    string
	// FaceSampleID is empty when the user had no registered sample.
	FaceSampleID string
	Data         []byte
	// Result is nil whenever no comparison was made.
	Result *recognition.Verdict
	Error  string
}

// Settings is the process-wide client settings document. Known capture options are
// typed; anything else in the document is carried in Extra.
type Settings struct {
	Width     int
	Height    int
	Quality   float64
	Type      string
	Grayscale bool
	Extra     map[string]any
}

var settingsKeys = []string{"width", "height", "quality", "type", "grayscale"}

// MarshalJSON renders the settings as one flat object.
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(settingsKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	out["width"] = s.Width
	out["height"] = s.Height
	out["quality"] = s.Quality
	out["type"] = s.Type
	out["grayscale"] = s.Grayscale
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var typed struct {
		Width     int     `json:"width"`
		Height    int     `json:"height"`
		Quality   float64 `json:"quality"`
		Type      string  `json:"type"`
		Grayscale bool    `json:"grayscale"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	for _, k := range settingsKeys {
		delete(extra, k)
	}
	if len(extra) == 0 {
		extra = nil
	}
	*s = Settings{
		Width:     typed.Width,
		Height:    typed.Height,
		Quality:   typed.Quality,
		Type:      typed.Type,
		Grayscale: typed.Grayscale,
		Extra:     extra,
	}
	return nil
}
