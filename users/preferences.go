package users

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Theme is the console colour scheme
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Density controls table and card spacing
type Density string

const (
	DensityComfortable Density = "comfortable"
	DensityCompact     Density = "compact"
)

// Preferences are the per-user display settings. The server copy is
// authoritative: after an update the local value is replaced by the echo.
type Preferences struct {
	Theme                Theme   `json:"theme"`
	Density              Density `json:"density"`
	NotificationsEnabled bool    `json:"notificationsEnabled"`
	DefaultRegion        string  `json:"defaultRegion"`
}

// DefaultPreferences are applied to new users and fill any field the server omits.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:                ThemeSystem,
		Density:              DensityComfortable,
		NotificationsEnabled: true,
		DefaultRegion:        "global",
	}
}

// Validate rejects values the console does not understand.
func (p Preferences) Validate() error {
	switch p.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("unknown theme %q", p.Theme)
	}
	switch p.Density {
	case DensityComfortable, DensityCompact:
	default:
		return fmt.Errorf("unknown density %q", p.Density)
	}
	if p.DefaultRegion == "" {
		return fmt.Errorf("default region is required")
	}
	return nil
}

// DecodePreferences turns the preferences member of a user payload into a typed
// value. The backend sometimes stores preferences as a JSON document encoded in
// a string column, so both `{"theme":"dark"}` and `"{\"theme\":\"dark\"}"` are
// accepted. Missing fields, null and the empty string keep their defaults.
func DecodePreferences(raw json.RawMessage) (Preferences, error) {
	prefs := DefaultPreferences()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return prefs, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return prefs, fmt.Errorf("failed to decode preferences string: %w", err)
		}
		raw = bytes.TrimSpace([]byte(encoded))
		if len(raw) == 0 {
			return prefs, nil
		}
	}

	type plain Preferences
	p := plain(prefs)
	if err := json.Unmarshal(raw, &p); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	return Preferences(p), nil
}

// UnmarshalJSON routes every decode of a Preferences value through DecodePreferences.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	decoded, err := DecodePreferences(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
