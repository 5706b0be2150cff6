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
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// BuildCommandArgs assembles the FreeRDP command line for an external
// backend. The password never appears in the argument vector; when one is
// configured the /from-stdin switch is added and Launch feeds it through
// the child's standard input. The server address goes last, as FreeRDP
// requires.
func BuildCommandArgs(cfg *ConnectionConfig) []string {
	var args []string

	if cfg.Domain != "" {
		args = append(args, "/d:"+cfg.Domain)
	}
	if cfg.Credentials.Username != "" {
		args = append(args, "/u:"+cfg.Credentials.Username)
	}
	if cfg.Credentials.Password != "" {
		args = append(args, "/from-stdin")
	}

	args = append(args,
		fmt.Sprintf("/w:%d", cfg.DesktopSize.Width),
		fmt.Sprintf("/h:%d", cfg.DesktopSize.Height),
		"/cert:ignore",
		"/dynamic-resolution",
		"/decorations",
	)

	if cfg.ClipboardEnabled {
		args = append(args, "+clipboard")
	}
	for _, folder := range cfg.SharedFolders {
		if _, err := os.Stat(folder.Path); err != nil {
			continue
		}
		args = append(args, fmt.Sprintf("/drive:%s,%s", folder.Name, folder.Path))
	}

	if cfg.Port == DefaultPort || cfg.Port == 0 {
		args = append(args, "/v:"+cfg.Host)
	} else {
		args = append(args, fmt.Sprintf("/v:%s:%d", cfg.Host, cfg.Port))
	}
	return args
}

// Launch starts an external FreeRDP process for the given backend. The
// returned command has been started; the caller waits on it to track the
// session lifetime.
func Launch(ctx context.Context, backend Backend, cfg *ConnectionConfig, log zerolog.Logger) (*exec.Cmd, error) {
	if backend.IsNative() {
		return nil, fmt.Errorf("backend %s is not an external command", backend.DisplayName())
	}
	args := BuildCommandArgs(cfg)
	cmd := exec.CommandContext(ctx, backend.CommandName(), args...)

	if cfg.Credentials.Password != "" {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		go func() {
			defer stdin.Close()
			io.WriteString(stdin, cfg.Credentials.Password+"\n")
		}()
	}

	log.Info().
		Str("backend", backend.DisplayName()).
		Str("command", backend.CommandName()).
		Str("args", strings.Join(args, " ")).
		Msg("launching external backend")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", backend.CommandName(), err)
	}
	return cmd, nil
}
