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
	"net"
	"strconv"
)

// Default RDP port as per MS-RDPBCGR section 2.2.1.1
const DefaultPort = 3389

// PerformanceMode is the user-selectable quality/speed tradeoff. It maps
// deterministically to the capability parameters sent during the handshake.
type PerformanceMode uint8

const (
	// ModeQuality favors fidelity: lossless compression, RemoteFX codec,
	// font smoothing and desktop composition enabled.
	ModeQuality PerformanceMode = iota
	// ModeBalanced allows the server to trade quality for bandwidth
	// dynamically while keeping the rich codec set.
	ModeBalanced
	// ModeSpeed disables all visual effects and falls back to legacy
	// bitmap updates for slow or unreliable links.
	ModeSpeed
)

func (m PerformanceMode) String() string {
	switch m {
	case ModeQuality:
		return "quality"
	case ModeBalanced:
		return "balanced"
	case ModeSpeed:
		return "speed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// SharedFolder describes a local directory exposed to the remote host via
// drive redirection. Name is the drive label shown in Windows Explorer.
type SharedFolder struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"read_only"`
}

// DesktopSize is the requested session resolution.
type DesktopSize struct {
	Width  uint16 `yaml:"width"`
	Height uint16 `yaml:"height"`
}

// Credentials carries authentication material for the session. It is treated
// as an opaque value: never persisted and never logged by this package.
// Empty credentials are valid; the remote host will prompt instead.
type Credentials struct {
	Username string
	Password string
}

// String implements fmt.Stringer so that accidental formatting of a
// Credentials value cannot leak the password.
func (Credentials) String() string { return "<credentials redacted>" }

// IsZero reports whether no credential material was supplied.
func (c Credentials) IsZero() bool { return c.Username == "" && c.Password == "" }

// ConnectionConfig describes a single connection attempt. It is constructed
// once by the caller and must not be mutated while the attempt is in flight;
// a changed configuration requires a new attempt.
type ConnectionConfig struct {
	Host   string
	Port   uint16
	Domain string

	PerformanceMode  PerformanceMode
	ClipboardEnabled bool
	AudioEnabled     bool
	SharedFolders    []SharedFolder

	DesktopSize DesktopSize

	// KeyboardLayout is a Windows keyboard layout identifier (KLID), for
	// example 0x0407 for German. Zero means auto-detect from the host.
	KeyboardLayout uint32

	Credentials Credentials
}

// DefaultConfig returns a ConnectionConfig for the given host with the same
// defaults the desktop application uses for a new connection entry.
func DefaultConfig(host string) *ConnectionConfig {
	return &ConnectionConfig{
		Host:             host,
		Port:             DefaultPort,
		PerformanceMode:  ModeBalanced,
		ClipboardEnabled: true,
		DesktopSize:      DesktopSize{Width: 1280, Height: 720},
	}
}

// Addr returns the dial target as "host:port".
func (c *ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Validate checks the configuration before an attempt is started.
func (c *ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port cannot be 0")
	}
	if c.DesktopSize.Width == 0 || c.DesktopSize.Height == 0 {
		return fmt.Errorf("desktop size cannot be %dx%d", c.DesktopSize.Width, c.DesktopSize.Height)
	}
	for i, f := range c.SharedFolders {
		if f.Name == "" {
			return fmt.Errorf("shared folder %d has no drive name", i)
		}
		if f.Path == "" {
			return fmt.Errorf("shared folder %q has no local path", f.Name)
		}
	}
	return nil
}
