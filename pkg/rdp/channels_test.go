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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFolders(n int) []SharedFolder {
	names := []string{"Documents", "Downloads", "Pictures"}
	var out []SharedFolder
	for i := 0; i < n; i++ {
		out = append(out, SharedFolder{Name: names[i], Path: "/home/user/" + names[i]})
	}
	return out
}

func TestBuildChannelSet(t *testing.T) {
	tests := []struct {
		name      string
		clipboard bool
		audio     bool
		folders   int
		wantNames []string
	}{
		{
			name:      "everything disabled yields no channels",
			wantNames: nil,
		},
		{
			name:      "clipboard only",
			clipboard: true,
			wantNames: []string{"cliprdr"},
		},
		{
			name:      "audio only",
			audio:     true,
			wantNames: []string{"rdpsnd"},
		},
		{
			name:      "clipboard and audio without folders",
			clipboard: true,
			audio:     true,
			wantNames: []string{"cliprdr", "rdpsnd"},
		},
		{
			name:      "folders force the audio channel even when audio is off",
			folders:   1,
			wantNames: []string{"rdpsnd", "rdpdr"},
		},
		{
			name:      "full set keeps audio before drive",
			clipboard: true,
			audio:     true,
			folders:   2,
			wantNames: []string{"cliprdr", "rdpsnd", "rdpdr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("host")
			cfg.ClipboardEnabled = tt.clipboard
			cfg.AudioEnabled = tt.audio
			cfg.SharedFolders = testFolders(tt.folders)

			set := BuildChannelSet(cfg, zerolog.Nop())
			assert.Equal(t, tt.wantNames, set.Names())

			// rdpsnd must precede rdpdr whenever both are present.
			audioIdx, driveIdx := set.Index(ChannelAudio), set.Index(ChannelDrive)
			if audioIdx >= 0 && driveIdx >= 0 {
				assert.Less(t, audioIdx, driveIdx, "audio channel must precede drive channel")
			}
			// The drive channel never appears without the audio channel.
			if driveIdx >= 0 {
				assert.GreaterOrEqual(t, audioIdx, 0)
			}
		})
	}
}

func TestBuildChannelSetDisabledAudioStandIn(t *testing.T) {
	cfg := DefaultConfig("host")
	cfg.ClipboardEnabled = false
	cfg.AudioEnabled = false
	cfg.SharedFolders = testFolders(1)

	set := BuildChannelSet(cfg, zerolog.Nop())
	require.Equal(t, 2, len(set))
	assert.IsType(t, &DisabledAudioBackend{}, set[0].Backend)

	cfg.AudioEnabled = true
	set = BuildChannelSet(cfg, zerolog.Nop())
	assert.IsType(t, &AudioBackend{}, set[0].Backend)
}

func TestBuildChannelSetDrives(t *testing.T) {
	cfg := DefaultConfig("host")
	cfg.SharedFolders = testFolders(3)

	set := BuildChannelSet(cfg, zerolog.Nop())
	driveIdx := set.Index(ChannelDrive)
	require.GreaterOrEqual(t, driveIdx, 0)

	drives := set[driveIdx].Drives
	require.Equal(t, 3, len(drives))
	for i, d := range drives {
		assert.Equal(t, uint32(i+1), d.DeviceID)
	}
	assert.Equal(t, "Documents", drives[0].Name)

	// Only the first folder backs the filesystem bridge.
	backend, ok := set[driveIdx].Backend.(*DriveBackend)
	require.True(t, ok)
	assert.Equal(t, "/home/user/Documents", backend.BasePath())
}

func TestClipboardBackendKeepsLatestEvent(t *testing.T) {
	b := &ClipboardBackend{}
	require.NoError(t, b.HandleEvent(ChannelEvent{Kind: ChannelClipboard, Payload: []byte("first")}))
	require.NoError(t, b.HandleEvent(ChannelEvent{Kind: ChannelClipboard, Payload: []byte("second")}))

	data, err := b.ProvideData()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}
