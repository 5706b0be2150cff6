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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommandArgsBasic(t *testing.T) {
	cfg := DefaultConfig("server.example.com")
	args := BuildCommandArgs(cfg)

	assert.Contains(t, args, "/w:1280")
	assert.Contains(t, args, "/h:720")
	assert.Contains(t, args, "/cert:ignore")
	assert.Contains(t, args, "/dynamic-resolution")
	assert.Contains(t, args, "/decorations")
	assert.Contains(t, args, "+clipboard")

	// The server address must come last.
	require.NotEmpty(t, args)
	assert.Equal(t, "/v:server.example.com", args[len(args)-1])
}

func TestBuildCommandArgsCredentials(t *testing.T) {
	cfg := DefaultConfig("server.example.com")
	cfg.Domain = "CORP"
	cfg.Credentials = Credentials{Username: "admin", Password: "hunter2"}
	args := BuildCommandArgs(cfg)

	assert.Contains(t, args, "/d:CORP")
	assert.Contains(t, args, "/u:admin")
	assert.Contains(t, args, "/from-stdin")
	for _, arg := range args {
		assert.NotContains(t, arg, "hunter2", "password must never reach the argument vector")
		assert.False(t, strings.HasPrefix(arg, "/p:"))
	}
}

func TestBuildCommandArgsCustomPort(t *testing.T) {
	cfg := DefaultConfig("server.example.com")
	cfg.Port = 3390
	args := BuildCommandArgs(cfg)
	assert.Equal(t, "/v:server.example.com:3390", args[len(args)-1])
}

func TestBuildCommandArgsClipboardDisabled(t *testing.T) {
	cfg := DefaultConfig("server.example.com")
	cfg.ClipboardEnabled = false
	assert.NotContains(t, BuildCommandArgs(cfg), "+clipboard")
}

func TestBuildCommandArgsSharedFolders(t *testing.T) {
	existing := t.TempDir()
	cfg := DefaultConfig("server.example.com")
	cfg.SharedFolders = []SharedFolder{
		{Name: "Scratch", Path: existing},
		{Name: "Gone", Path: "/nonexistent/path/that/does/not/exist"},
	}
	args := BuildCommandArgs(cfg)

	var driveArgs []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "/drive:") {
			driveArgs = append(driveArgs, arg)
		}
	}
	require.Equal(t, 1, len(driveArgs), "missing directories are skipped")
	assert.Equal(t, "/drive:Scratch,"+existing, driveArgs[0])
}
