// RustConn Go - Remote connection engine for RDP sessions
// Copyright (C) 2025 - RustConn contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rdp

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk representation of a saved connection. Passwords
// are never part of a profile; they live in the system keyring and are
// attached to the ConnectionConfig at connect time.
type Profile struct {
	Host             string         `yaml:"host"`
	Port             uint16         `yaml:"port,omitempty"`
	Domain           string         `yaml:"domain,omitempty"`
	Username         string         `yaml:"username,omitempty"`
	PerformanceMode  string         `yaml:"performance_mode,omitempty"`
	ClipboardEnabled *bool          `yaml:"clipboard_enabled,omitempty"`
	AudioEnabled     bool           `yaml:"audio_enabled,omitempty"`
	SharedFolders    []SharedFolder `yaml:"shared_folders,omitempty"`
	Desktop          *DesktopSize   `yaml:"desktop,omitempty"`
	KeyboardLayout   uint32         `yaml:"keyboard_layout,omitempty"`
}

// LoadProfile decodes a YAML profile and resolves it into a connection
// configuration, filling unset fields with the same defaults a new
// connection entry gets.
func LoadProfile(r io.Reader) (*ConnectionConfig, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p.Config()
}

// SaveProfile encodes the profile as YAML.
func SaveProfile(w io.Writer, p *Profile) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(p)
}

// Config resolves the profile into a validated ConnectionConfig.
func (p *Profile) Config() (*ConnectionConfig, error) {
	cfg := DefaultConfig(p.Host)
	if p.Port != 0 {
		cfg.Port = p.Port
	}
	cfg.Domain = p.Domain
	cfg.Credentials.Username = p.Username
	cfg.AudioEnabled = p.AudioEnabled
	cfg.SharedFolders = p.SharedFolders
	cfg.KeyboardLayout = p.KeyboardLayout
	if p.ClipboardEnabled != nil {
		cfg.ClipboardEnabled = *p.ClipboardEnabled
	}
	if p.Desktop != nil {
		cfg.DesktopSize = *p.Desktop
	}

	switch p.PerformanceMode {
	case "", "balanced":
		cfg.PerformanceMode = ModeBalanced
	case "quality":
		cfg.PerformanceMode = ModeQuality
	case "speed":
		cfg.PerformanceMode = ModeSpeed
	default:
		return nil, fmt.Errorf("unknown performance mode %q", p.PerformanceMode)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
