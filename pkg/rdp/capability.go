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

import "time"

// Performance flags sent in the extended client info packet
// (MS-RDPBCGR section 2.2.1.11.1.1.1).
type PerformanceFlags uint32

const (
	PerfDisableWallpaper         PerformanceFlags = 0x00000001
	PerfDisableFullWindowDrag    PerformanceFlags = 0x00000002
	PerfDisableMenuAnimations    PerformanceFlags = 0x00000004
	PerfDisableTheming           PerformanceFlags = 0x00000008
	PerfDisableCursorShadow      PerformanceFlags = 0x00000020
	PerfDisableCursorSettings    PerformanceFlags = 0x00000040
	PerfEnableFontSmoothing      PerformanceFlags = 0x00000080
	PerfEnableDesktopComposition PerformanceFlags = 0x00000100
)

// defaultPerformanceFlags are the library defaults used by Balanced mode:
// full-window drag and menu animations off, font smoothing on.
const defaultPerformanceFlags = PerfDisableFullWindowDrag |
	PerfDisableMenuAnimations |
	PerfEnableFontSmoothing

// BitmapCodec identifies a bitmap codec advertised in the codec capability
// set (MS-RDPBCGR section 2.2.7.2.10).
type BitmapCodec uint8

const (
	// CodecRemoteFX is the RemoteFX codec (MS-RDPRFX).
	CodecRemoteFX BitmapCodec = iota
)

// CapabilityDescriptor is the negotiated bitmap/codec/performance parameter
// set presented to the remote host during the handshake. It is a pure
// function of the performance mode.
type CapabilityDescriptor struct {
	// ColorDepth is pinned at 32 for every mode. Some cloud hosts
	// (notably AWS EC2) reject a 24-bit negotiation outright.
	ColorDepth       uint8
	LossyCompression bool
	Codecs           []BitmapCodec
	PerformanceFlags PerformanceFlags
}

// BuildCapabilities maps a performance mode to the capability parameters
// sent on the wire:
//
//	Quality:  lossless, RemoteFX, font smoothing + desktop composition
//	Balanced: lossy allowed, RemoteFX, library default flags
//	Speed:    lossy, legacy bitmap updates only, all visual effects off
func BuildCapabilities(mode PerformanceMode) CapabilityDescriptor {
	switch mode {
	case ModeQuality:
		return CapabilityDescriptor{
			ColorDepth:       32,
			LossyCompression: false,
			Codecs:           []BitmapCodec{CodecRemoteFX},
			PerformanceFlags: PerfEnableFontSmoothing | PerfEnableDesktopComposition,
		}
	case ModeSpeed:
		return CapabilityDescriptor{
			ColorDepth:       32,
			LossyCompression: true,
			Codecs:           nil,
			PerformanceFlags: PerfDisableWallpaper |
				PerfDisableFullWindowDrag |
				PerfDisableMenuAnimations |
				PerfDisableTheming |
				PerfDisableCursorShadow |
				PerfDisableCursorSettings,
		}
	default: // ModeBalanced
		return CapabilityDescriptor{
			ColorDepth:       32,
			LossyCompression: true,
			Codecs:           []BitmapCodec{CodecRemoteFX},
			PerformanceFlags: defaultPerformanceFlags,
		}
	}
}

// TimezoneBias returns the client timezone bias for the client info packet.
// The protocol sign convention is UTC minus local time in minutes, so UTC+2
// yields -120.
func TimezoneBias(now time.Time) int32 {
	_, offsetSecs := now.Zone()
	return int32(-(offsetSecs / 60))
}
