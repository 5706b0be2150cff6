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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("server.example.com")
	assert.Equal(t, "server.example.com", cfg.Host)
	assert.Equal(t, uint16(DefaultPort), cfg.Port)
	assert.Equal(t, ModeBalanced, cfg.PerformanceMode)
	assert.True(t, cfg.ClipboardEnabled)
	assert.False(t, cfg.AudioEnabled)
	assert.Equal(t, DesktopSize{Width: 1280, Height: 720}, cfg.DesktopSize)
	assert.True(t, cfg.Credentials.IsZero())
	require.NoError(t, cfg.Validate())
}

func TestConfigAddr(t *testing.T) {
	cfg := DefaultConfig("host")
	assert.Equal(t, "host:3389", cfg.Addr())

	cfg.Port = 13389
	assert.Equal(t, "host:13389", cfg.Addr())

	cfg.Host = "::1"
	assert.Equal(t, "[::1]:13389", cfg.Addr())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
	}{
		{"missing host", func(c *ConnectionConfig) { c.Host = "" }},
		{"zero port", func(c *ConnectionConfig) { c.Port = 0 }},
		{"zero width", func(c *ConnectionConfig) { c.DesktopSize.Width = 0 }},
		{"zero height", func(c *ConnectionConfig) { c.DesktopSize.Height = 0 }},
		{"folder without name", func(c *ConnectionConfig) {
			c.SharedFolders = []SharedFolder{{Path: "/tmp"}}
		}},
		{"folder without path", func(c *ConnectionConfig) {
			c.SharedFolders = []SharedFolder{{Name: "Documents"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("host")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCredentialsNeverFormatPassword(t *testing.T) {
	creds := Credentials{Username: "admin", Password: "hunter2"}
	for _, rendered := range []string{
		fmt.Sprint(creds),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%s", creds),
	} {
		assert.NotContains(t, rendered, "hunter2")
		assert.NotContains(t, rendered, "admin")
	}
	assert.False(t, creds.IsZero())
	assert.True(t, Credentials{}.IsZero())
}
