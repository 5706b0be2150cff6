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

// Command rdpconnect probes the available RDP backends and establishes a
// single connection, either through the embedded engine or by handing off
// to an external FreeRDP client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/totoshko88/RustConn-sub004/pkg/rdp"
)

func main() {
	var (
		listBackends  = flag.Bool("list-backends", false, "Detect and list available backends, then exit")
		profilePath   = flag.String("profile", "", "Load connection settings from a YAML profile")
		port          = flag.Uint16("port", rdp.DefaultPort, "RDP port")
		domain        = flag.String("domain", "", "Logon domain")
		username      = flag.StringP("user", "u", "", "Username (empty submits blank credentials)")
		passwordStdin = flag.Bool("password-stdin", false, "Read the password from standard input")
		mode          = flag.String("mode", "balanced", "Performance mode: quality, balanced or speed")
		clipboard     = flag.Bool("clipboard", true, "Enable clipboard redirection")
		audio         = flag.Bool("audio", false, "Enable audio playback redirection")
		drives        = flag.StringArray("drive", nil, "Shared folder as name,path (repeatable)")
		width         = flag.Uint16("width", 1280, "Desktop width")
		height        = flag.Uint16("height", 720, "Desktop height")
		timeout       = flag.Duration("timeout", 10*time.Second, "Overall connection timeout")
		external      = flag.Bool("external", false, "Launch an external FreeRDP client instead of the embedded engine")
		verbose       = flag.BoolP("verbose", "v", false, "Enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	selector := rdp.NewSelector(log)
	if *listBackends {
		printBackends(selector)
		return
	}

	cfg, err := buildConfig(*profilePath, flag.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if flag.CommandLine.Changed("port") {
		cfg.Port = *port
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *username != "" {
		cfg.Credentials.Username = *username
	}
	if *passwordStdin {
		cfg.Credentials.Password, err = readPassword()
		if err != nil {
			log.Fatal().Err(err).Msg("reading password")
		}
	}
	if err := applyFlags(cfg, *mode, *clipboard, *audio, *drives, *width, *height); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if *external {
		runExternal(selector, cfg, log)
		return
	}
	runEmbedded(cfg, *timeout, log)
}

func printBackends(selector *rdp.Selector) {
	results := selector.DetectAll()
	for _, res := range results {
		status := "not found"
		if res.Available {
			status = res.Version
		}
		fmt.Printf("%-24s %s\n", res.Backend.DisplayName(), status)
	}
	if best, ok := selector.SelectBest(); ok {
		fmt.Printf("\nselected: %s\n", best.DisplayName())
	} else {
		fmt.Println("\nno backend available")
	}
}

func buildConfig(profilePath string, args []string) (*rdp.ConnectionConfig, error) {
	if profilePath != "" {
		f, err := os.Open(profilePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return rdp.LoadProfile(f)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one host argument, got %d", len(args))
	}
	return rdp.DefaultConfig(args[0]), nil
}

func applyFlags(cfg *rdp.ConnectionConfig, mode string, clipboard, audio bool, drives []string, width, height uint16) error {
	if flag.CommandLine.Changed("mode") {
		switch mode {
		case "quality":
			cfg.PerformanceMode = rdp.ModeQuality
		case "balanced":
			cfg.PerformanceMode = rdp.ModeBalanced
		case "speed":
			cfg.PerformanceMode = rdp.ModeSpeed
		default:
			return fmt.Errorf("unknown performance mode %q", mode)
		}
	}
	if flag.CommandLine.Changed("clipboard") {
		cfg.ClipboardEnabled = clipboard
	}
	if flag.CommandLine.Changed("audio") {
		cfg.AudioEnabled = audio
	}
	if flag.CommandLine.Changed("width") || flag.CommandLine.Changed("height") {
		cfg.DesktopSize = rdp.DesktopSize{Width: width, Height: height}
	}
	for _, d := range drives {
		name, path, ok := strings.Cut(d, ",")
		if !ok {
			return fmt.Errorf("drive %q: expected name,path", d)
		}
		cfg.SharedFolders = append(cfg.SharedFolders, rdp.SharedFolder{Name: name, Path: path})
	}
	return nil
}

func readPassword() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", nil
	}
	return scanner.Text(), nil
}

func runEmbedded(cfg *rdp.ConnectionConfig, timeout time.Duration, log zerolog.Logger) {
	ctx := context.Background()
	channel, token, err := rdp.Connect(ctx, cfg, timeout, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connection failed")
	}
	defer channel.Close()

	fmt.Printf("session %s established to %s\n", token.SessionID, cfg.Addr())
	fmt.Printf("  protocol: %s", token.NegotiatedProtocol)
	if token.TLSVersion != "" {
		fmt.Printf(" (%s)", token.TLSVersion)
	}
	fmt.Println()
	if names := channel.Channels().Names(); len(names) > 0 {
		fmt.Printf("  channels: %s\n", strings.Join(names, ", "))
	}
}

func runExternal(selector *rdp.Selector, cfg *rdp.ConnectionConfig, log zerolog.Logger) {
	backend, ok := selector.SelectExternal()
	if !ok {
		log.Fatal().Err(rdp.ErrNoBackendAvailable).Msg("no external backend")
	}
	cmd, err := rdp.Launch(context.Background(), backend, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("launch failed")
	}
	if err := cmd.Wait(); err != nil {
		log.Fatal().Err(err).Msg("external client exited with error")
	}
}
