package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
)

// interactl profile: TOML keys mapped onto connection settings.
type fileConfig struct {
	URL             string `toml:"url"`
	Token           string `toml:"token"`
	VersionID       string `toml:"version_id"`
	ShareCode       string `toml:"share_code"`
	ProtocolVersion string `toml:"protocol_version"`
	Timeout         string `toml:"timeout"`
	Verbose         bool   `toml:"verbose"`
}

// settings are the resolved connection parameters for a command: defaults,
// overlaid by the profile, overlaid by flags.
type settings struct {
	URL             string
	Token           string
	VersionID       string
	ShareCode       string
	ProtocolVersion string
	Timeout         time.Duration
	Verbose         bool
}

func (s settings) endpoint() interactive.Endpoint {
	return interactive.Endpoint{
		URL:             s.URL,
		Authorization:   s.Token,
		ProtocolVersion: s.ProtocolVersion,
		VersionID:       s.VersionID,
		ShareCode:       s.ShareCode,
	}
}

// loadSettings resolves the connection settings for a command. A profile
// is consulted if --config is set or $INTERACTL_CONFIG names one; flags
// override whatever the profile defines.
func loadSettings() (settings, error) {
	set := settings{
		ProtocolVersion: "2.0",
		Timeout:         30 * time.Second,
	}

	path := globalFlags.Config
	if path == "" {
		path = os.Getenv("INTERACTL_CONFIG")
	}
	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return settings{}, fmt.Errorf("load profile: %w", err)
		}
		if meta.IsDefined("url") {
			set.URL = strings.TrimSpace(raw.URL)
		}
		if meta.IsDefined("token") {
			set.Token = strings.TrimSpace(raw.Token)
		}
		if meta.IsDefined("version_id") {
			set.VersionID = strings.TrimSpace(raw.VersionID)
		}
		if meta.IsDefined("share_code") {
			set.ShareCode = strings.TrimSpace(raw.ShareCode)
		}
		if meta.IsDefined("protocol_version") {
			set.ProtocolVersion = strings.TrimSpace(raw.ProtocolVersion)
		}
		if meta.IsDefined("timeout") {
			d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
			if err != nil {
				return settings{}, fmt.Errorf("load profile: invalid timeout: %w", err)
			}
			set.Timeout = d
		}
		if meta.IsDefined("verbose") {
			set.Verbose = raw.Verbose
		}
	}

	if globalFlags.URL != "" {
		set.URL = globalFlags.URL
	}
	if globalFlags.Token != "" {
		set.Token = globalFlags.Token
	}
	if globalFlags.VersionID != "" {
		set.VersionID = globalFlags.VersionID
	}
	if globalFlags.ShareCode != "" {
		set.ShareCode = globalFlags.ShareCode
	}
	if globalFlags.Timeout > 0 {
		set.Timeout = globalFlags.Timeout
	}
	if globalFlags.Verbose {
		set.Verbose = true
	}
	return set, nil
}
