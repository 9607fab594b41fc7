package config

import (
	"github.com/pkg/errors"
)

const (
	ProfileLocal  = "local"
	ProfileHosted = "hosted"
)

// Profile carries the settings that differ between a developer machine and
// a hosted deployment of the broker.
type Profile struct {
	Name           string
	AllowedOrigins []string
	ServeStatic    bool
	RequireFile    bool
}

var profiles = map[string]Profile{
	ProfileLocal: {
		Name:           ProfileLocal,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		RequireFile:    true,
	},
	ProfileHosted: {
		Name:        ProfileHosted,
		ServeStatic: true,
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, errors.Errorf("unknown profile %q (want %s or %s)", name, ProfileLocal, ProfileHosted)
	}
	return p, nil
}

// ForServer applies server overrides from cfg to the profile.
func (p Profile) ForServer(cfg ServerConfig) Profile {
	if len(cfg.AllowedOrigins) > 0 {
		p.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	}
	if cfg.StaticDir == "" {
		p.ServeStatic = false
	}
	return p
}
