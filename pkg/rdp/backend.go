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
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Backend is a concrete implementation capable of running an RDP session,
// either the native in-process client or an external FreeRDP variant.
type Backend uint8

const (
	// BackendNative is the in-process client implemented by this package.
	BackendNative Backend = iota
	// BackendWlFreeRDP3 is FreeRDP 3.x for Wayland.
	BackendWlFreeRDP3
	// BackendWlFreeRDP is FreeRDP 2.x for Wayland.
	BackendWlFreeRDP
	// BackendXFreeRDP3 is FreeRDP 3.x for X11.
	BackendXFreeRDP3
	// BackendXFreeRDP is FreeRDP 2.x for X11.
	BackendXFreeRDP
	// BackendFreeRDP is the generic freerdp command.
	BackendFreeRDP
)

// externalProbeOrder is the fixed probe order for external executables.
var externalProbeOrder = []Backend{
	BackendWlFreeRDP3,
	BackendWlFreeRDP,
	BackendXFreeRDP3,
	BackendXFreeRDP,
	BackendFreeRDP,
}

// CommandName returns the executable name for this backend. The native
// backend has no executable.
func (b Backend) CommandName() string {
	switch b {
	case BackendWlFreeRDP3:
		return "wlfreerdp3"
	case BackendWlFreeRDP:
		return "wlfreerdp"
	case BackendXFreeRDP3:
		return "xfreerdp3"
	case BackendXFreeRDP:
		return "xfreerdp"
	case BackendFreeRDP:
		return "freerdp"
	default:
		return ""
	}
}

// DisplayName returns the name shown in connection dialogs.
func (b Backend) DisplayName() string {
	switch b {
	case BackendNative:
		return "Native (embedded)"
	case BackendWlFreeRDP3:
		return "FreeRDP 3.x (Wayland)"
	case BackendWlFreeRDP:
		return "FreeRDP 2.x (Wayland)"
	case BackendXFreeRDP3:
		return "FreeRDP 3.x"
	case BackendXFreeRDP:
		return "FreeRDP 2.x"
	case BackendFreeRDP:
		return "FreeRDP"
	default:
		return "Unknown"
	}
}

func (b Backend) String() string { return b.DisplayName() }

// SupportsEmbedded reports whether the backend can render inside the
// application window rather than spawning its own.
func (b Backend) SupportsEmbedded() bool {
	return b == BackendNative || b == BackendWlFreeRDP3 || b == BackendWlFreeRDP
}

// IsNative reports whether the backend runs in-process with no external
// executable.
func (b Backend) IsNative() bool { return b == BackendNative }

// DetectionResult is the outcome of probing one backend.
type DetectionResult struct {
	Backend   Backend
	Available bool
	Version   string
}

// Selector probes which RDP backends exist on the host and picks the best
// candidate for embedded or external operation. Detection results are cached
// until ClearCache is called. The cache is guarded by a mutex; concurrent
// first-time callers may each pay the probe cost once, which is acceptable
// because probes are idempotent and side-effect-free.
type Selector struct {
	mu    sync.Mutex
	cache []DetectionResult

	nativeAvailable bool
	log             zerolog.Logger

	// probe seams, replaced in tests
	lookPath  func(name string) (string, error)
	versionOf func(name string) string
	isWayland func() bool
}

// NewSelector returns a Selector. The native backend is always compiled in
// with this package, so it reports available unless overridden for tests.
func NewSelector(log zerolog.Logger) *Selector {
	return &Selector{
		nativeAvailable: true,
		log:             log,
		lookPath:        exec.LookPath,
		versionOf:       queryFreeRDPVersion,
		isWayland:       IsWaylandSession,
	}
}

// DetectAll probes the native capability flag and the fixed, ordered list of
// external executables. A missing binary is reported as unavailable, never as
// an error. Results are cached after the first call.
func (s *Selector) DetectAll() []DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DetectionResult(nil), s.detectLocked()...)
}

func (s *Selector) detectLocked() []DetectionResult {
	if s.cache != nil {
		return s.cache
	}

	results := make([]DetectionResult, 0, 1+len(externalProbeOrder))

	native := DetectionResult{Backend: BackendNative, Available: s.nativeAvailable}
	if s.nativeAvailable {
		native.Version = "native"
	}
	results = append(results, native)

	for _, b := range externalProbeOrder {
		r := DetectionResult{Backend: b}
		if _, err := s.lookPath(b.CommandName()); err == nil {
			r.Available = true
			r.Version = s.versionOf(b.CommandName())
		}
		s.log.Debug().
			Str("backend", b.CommandName()).
			Bool("available", r.Available).
			Str("version", r.Version).
			Msg("backend probe")
		results = append(results, r)
	}

	s.cache = results
	return s.cache
}

// AvailableBackends returns the backends that reported available, in probe
// order.
func (s *Selector) AvailableBackends() []Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Backend
	for _, r := range s.detectLocked() {
		if r.Available {
			out = append(out, r.Backend)
		}
	}
	return out
}

// SelectEmbedded returns the best backend for embedded mode: the native
// client if available, else the best Wayland-capable FreeRDP variant with
// the 3.x release preferred. The wlfreerdp variants only run inside a
// Wayland session, so outside one the fallback is skipped and selection
// drops through to SelectExternal via SelectBest.
func (s *Selector) SelectEmbedded() (Backend, bool) {
	avail := s.availableSet()
	if avail[BackendNative] {
		return BackendNative, true
	}
	if !s.isWayland() {
		return 0, false
	}
	for _, b := range []Backend{BackendWlFreeRDP3, BackendWlFreeRDP} {
		if avail[b] {
			return b, true
		}
	}
	return 0, false
}

// SelectExternal returns the highest-priority available external variant:
// xfreerdp3, then xfreerdp, then the generic freerdp command as a last
// resort. The native backend is never returned here.
func (s *Selector) SelectExternal() (Backend, bool) {
	avail := s.availableSet()
	for _, b := range []Backend{BackendXFreeRDP3, BackendXFreeRDP, BackendFreeRDP} {
		if avail[b] {
			return b, true
		}
	}
	return 0, false
}

// SelectBest returns the embedded choice or, failing that, the external one.
func (s *Selector) SelectBest() (Backend, bool) {
	if b, ok := s.SelectEmbedded(); ok {
		return b, true
	}
	return s.SelectExternal()
}

// HasAnyBackend reports whether at least one backend is available.
func (s *Selector) HasAnyBackend() bool {
	return len(s.AvailableBackends()) > 0
}

// ClearCache forces re-probing on the next call, for example after the user
// installs a FreeRDP package.
func (s *Selector) ClearCache() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *Selector) availableSet() map[Backend]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[Backend]bool)
	for _, r := range s.detectLocked() {
		if r.Available {
			set[r.Backend] = true
		}
	}
	return set
}

// IsWaylandSession reports whether the current desktop session is Wayland.
// The Selector consults it before offering the wlfreerdp variants for
// embedded operation.
func IsWaylandSession() bool {
	if os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		return true
	}
	_, ok := os.LookupEnv("WAYLAND_DISPLAY")
	return ok
}

// queryFreeRDPVersion runs "<cmd> --version" and returns the first line of
// output. FreeRDP prints the version to stdout or stderr depending on the
// release, so both are checked. Returns "" when the query fails.
func queryFreeRDPVersion(cmd string) string {
	out, err := exec.Command(cmd, "--version").CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
