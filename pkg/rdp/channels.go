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
	"os"

	"github.com/rs/zerolog"
)

// ChannelKind identifies an optional virtual channel feature.
type ChannelKind uint8

const (
	ChannelClipboard ChannelKind = iota
	ChannelAudio
	ChannelDrive
)

// Static virtual channel names (MS-RDPBCGR section 2.2.1.3.4.1).
const (
	channelNameClipboard = "cliprdr"
	channelNameAudio     = "rdpsnd"
	channelNameDrive     = "rdpdr"
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelClipboard:
		return channelNameClipboard
	case ChannelAudio:
		return channelNameAudio
	case ChannelDrive:
		return channelNameDrive
	default:
		return "unknown"
	}
}

// ChannelEvent is an event arriving on a virtual channel.
type ChannelEvent struct {
	Kind    ChannelKind
	Payload []byte
}

// ChannelBackend handles one virtual channel feature. One implementation
// exists per feature plus a disabled stand-in selected by configuration.
type ChannelBackend interface {
	// HandleEvent processes an event arriving on the channel.
	HandleEvent(ev ChannelEvent) error
	// ProvideData supplies pending outbound data for the channel, or nil
	// when there is nothing to send.
	ProvideData() ([]byte, error)
}

// NamedDrive is one redirected drive entry announced to the server.
type NamedDrive struct {
	DeviceID uint32
	Name     string
}

// ChannelDescriptor is one entry of the ordered ChannelSet registered
// before the handshake starts.
type ChannelDescriptor struct {
	Kind    ChannelKind
	Name    string
	Backend ChannelBackend

	// Drives is populated for the drive-redirection channel only.
	Drives []NamedDrive
}

// ChannelSet is the ordered list of virtual channels for one attempt.
// Order is a protocol precondition, not a style choice: drive redirection
// requires the audio channel to already be registered (MS-RDPEFS), so the
// audio entry always precedes the drive entry.
type ChannelSet []ChannelDescriptor

// Names returns the static channel names in registration order, as encoded
// into the client network data block of the handshake.
func (cs ChannelSet) Names() []string {
	names := make([]string, len(cs))
	for i, d := range cs {
		names[i] = d.Name
	}
	return names
}

// Index returns the position of the first channel of the given kind, or -1.
func (cs ChannelSet) Index(kind ChannelKind) int {
	for i, d := range cs {
		if d.Kind == kind {
			return i
		}
	}
	return -1
}

// BuildChannelSet computes the ordered channel set for a configuration:
//
//  1. clipboard, when enabled (order-independent);
//  2. with shared folders: audio first (real backend when audio is enabled,
//     disabled backend otherwise), then drive redirection with one named
//     drive per folder;
//  3. otherwise audio alone, when enabled.
func BuildChannelSet(cfg *ConnectionConfig, log zerolog.Logger) ChannelSet {
	var set ChannelSet

	if cfg.ClipboardEnabled {
		set = append(set, ChannelDescriptor{
			Kind:    ChannelClipboard,
			Name:    channelNameClipboard,
			Backend: &ClipboardBackend{},
		})
		log.Debug().Msg("clipboard channel enabled")
	}

	switch {
	case len(cfg.SharedFolders) > 0:
		// The sound channel must exist before rdpdr even when the user
		// disabled audio; a no-op backend stands in.
		var audio ChannelBackend
		if cfg.AudioEnabled {
			audio = &AudioBackend{}
		} else {
			audio = &DisabledAudioBackend{}
		}
		set = append(set, ChannelDescriptor{
			Kind:    ChannelAudio,
			Name:    channelNameAudio,
			Backend: audio,
		})

		drives := make([]NamedDrive, len(cfg.SharedFolders))
		for i, folder := range cfg.SharedFolders {
			drives[i] = NamedDrive{DeviceID: uint32(i) + 1, Name: folder.Name}
			log.Debug().
				Uint32("device_id", drives[i].DeviceID).
				Str("name", folder.Name).
				Str("path", folder.Path).
				Msg("registering redirected drive")
		}
		// Only the first folder backs the filesystem bridge; the rest
		// are registered as named drives on the same backend.
		set = append(set, ChannelDescriptor{
			Kind:    ChannelDrive,
			Name:    channelNameDrive,
			Backend: NewDriveBackend(cfg.SharedFolders[0].Path),
			Drives:  drives,
		})

	case cfg.AudioEnabled:
		set = append(set, ChannelDescriptor{
			Kind:    ChannelAudio,
			Name:    channelNameAudio,
			Backend: &AudioBackend{},
		})
		log.Debug().Msg("audio channel enabled without drive redirection")
	}

	return set
}

// ClipboardBackend bridges the remote clipboard to the local one.
type ClipboardBackend struct {
	pending []byte
}

func (b *ClipboardBackend) HandleEvent(ev ChannelEvent) error {
	b.pending = append(b.pending[:0], ev.Payload...)
	return nil
}

func (b *ClipboardBackend) ProvideData() ([]byte, error) {
	data := b.pending
	b.pending = nil
	return data, nil
}

// AudioBackend receives remote audio output.
type AudioBackend struct{}

func (*AudioBackend) HandleEvent(ChannelEvent) error { return nil }

func (*AudioBackend) ProvideData() ([]byte, error) { return nil, nil }

// DisabledAudioBackend satisfies the rdpsnd channel precondition for drive
// redirection when the user has audio turned off. It accepts and discards
// everything.
type DisabledAudioBackend struct{}

func (*DisabledAudioBackend) HandleEvent(ChannelEvent) error { return nil }

func (*DisabledAudioBackend) ProvideData() ([]byte, error) { return nil, nil }

// DriveBackend serves drive-redirection requests from a local base path.
type DriveBackend struct {
	basePath     string
	computerName string
}

// NewDriveBackend returns a drive backend rooted at basePath. The computer
// name is what Windows Explorer displays next to redirected drives.
func NewDriveBackend(basePath string) *DriveBackend {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "RustConn"
	}
	return &DriveBackend{basePath: basePath, computerName: name}
}

// BasePath returns the local directory backing the filesystem bridge.
func (b *DriveBackend) BasePath() string { return b.basePath }

// ComputerName returns the client name announced on the drive channel.
func (b *DriveBackend) ComputerName() string { return b.computerName }

func (b *DriveBackend) HandleEvent(ChannelEvent) error { return nil }

func (b *DriveBackend) ProvideData() ([]byte, error) { return nil, nil }
