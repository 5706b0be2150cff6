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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnState tracks the progress of a connection attempt. States only ever
// advance; a failed attempt parks in StateFailed and a fresh attempt starts
// over from StateIdle.
type ConnState int

const (
	StateIdle ConnState = iota
	StateTCPConnecting
	StateNegotiationBegun
	StateTLSUpgrading
	StateFinalizing
	StateEstablished
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTCPConnecting:
		return "tcp-connecting"
	case StateNegotiationBegun:
		return "negotiation-begun"
	case StateTLSUpgrading:
		return "tls-upgrading"
	case StateFinalizing:
		return "finalizing"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Channel is an established session. It owns the underlying connection and
// is not safe for concurrent use; callers drive it from a single goroutine.
type Channel struct {
	conn            net.Conn
	userID          uint16
	ioChannelID     uint16
	shareID         uint32
	channels        ChannelSet
	channelIDs      map[string]uint16
	serverPublicKey []byte
}

// Close releases the underlying transport.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// Channels returns the virtual channel set wired for this session.
func (c *Channel) Channels() ChannelSet { return c.channels }

// ChannelID resolves a static channel name to the MCS channel ID granted by
// the server. The second return is false when the channel was not wired.
func (c *Channel) ChannelID(name string) (uint16, bool) {
	id, ok := c.channelIDs[name]
	return id, ok
}

// ServerPublicKey returns the DER-encoded SubjectPublicKeyInfo presented by
// the server during the TLS upgrade, for host key pinning.
func (c *Channel) ServerPublicKey() []byte { return c.serverPublicKey }

// Send writes payload on the named static channel.
func (c *Channel) Send(name string, payload []byte) error {
	id, ok := c.channelIDs[name]
	if !ok {
		return errors.New("rdp: channel not wired: " + name)
	}
	return sendOnChannel(c.conn, c.userID, id, payload)
}

// ResultToken summarizes a successful connection attempt.
type ResultToken struct {
	SessionID          uuid.UUID
	NegotiatedProtocol string
	TLSVersion         string
	Established        time.Time
}

// Connect runs the full connection sequence against cfg.Addr: TCP connect,
// X.224 negotiation, TLS upgrade and the finalizing exchange. A zero
// timeout means no overall deadline beyond what ctx carries.
//
// The attempt runs entirely on the calling goroutine. Cancellation via ctx
// is honored during dialing; after that the transport deadline derived from
// timeout bounds each phase.
func Connect(ctx context.Context, cfg *ConnectionConfig, timeout time.Duration, log zerolog.Logger) (*Channel, *ResultToken, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	sessionID := uuid.New()
	log = log.With().
		Stringer("session_id", sessionID).
		Str("addr", cfg.Addr()).
		Logger()

	state := StateTCPConnecting
	log.Info().Stringer("state", state).Msg("connecting")
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, nil, failAttempt(log, state, classifyDialError(err))
	}

	established := false
	defer func() {
		if !established {
			conn.Close()
		}
	}()
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, nil, failAttempt(log, state, connectionFailed(PhaseTCPConnect, err))
		}
	}

	state = StateNegotiationBegun
	log.Info().Stringer("state", state).Msg("negotiating security protocol")
	protocol, err := negotiate(conn, negotiationCookie(cfg))
	if err != nil {
		return nil, nil, failAttempt(log, state, classifyPhaseError(PhaseNegotiation, err))
	}
	log.Debug().Str("protocol", protocolName(protocol)).Msg("protocol selected")

	// Standard RDP security would carry the client info PDU in cleartext.
	// Credentials never go on the wire unencrypted, so a server that does
	// not select a TLS-based protocol ends the attempt here.
	if !isTLSRequired(protocol) {
		err := fmt.Errorf("server selected %s without TLS security", protocolName(protocol))
		return nil, nil, failAttempt(log, state, connectionFailed(PhaseNegotiation, err))
	}

	state = StateTLSUpgrading
	log.Info().Stringer("state", state).Msg("upgrading to TLS")
	tlsConn, serverPublicKey, err := upgradeTLS(conn, cfg.Host)
	if err != nil {
		return nil, nil, failAttempt(log, state, classifyPhaseError(PhaseTLSUpgrade, err))
	}
	var stream net.Conn = tlsConn
	tlsVersion := tlsVersionString(tlsConn.ConnectionState().Version)
	log.Debug().Str("tls_version", tlsVersion).Msg("TLS established")

	if protocol == ProtocolHybrid || protocol == ProtocolHybridEx {
		log.Info().Msg("performing NLA")
		if err := performCredSSP(tlsConn, serverPublicKey, cfg, log); err != nil {
			return nil, nil, failAttempt(log, state, classifyPhaseError(PhaseTLSUpgrade, err))
		}
	}

	state = StateFinalizing
	log.Info().Stringer("state", state).Msg("finalizing session")
	caps := BuildCapabilities(cfg.PerformanceMode)
	channels := BuildChannelSet(cfg, log)
	handles, err := finalizeSession(stream, finalizeParams{
		cfg:             cfg,
		caps:            caps,
		channels:        channels,
		keyboardLayout:  keyboardLayoutFor(cfg),
		protocol:        protocol,
		serverPublicKey: serverPublicKey,
	}, log)
	if err != nil {
		return nil, nil, failAttempt(log, state, classifyFinalizeError(err))
	}

	if timeout > 0 {
		if err := stream.SetDeadline(time.Time{}); err != nil {
			return nil, nil, failAttempt(log, state, finalizeFailed(err))
		}
	}

	established = true
	token := &ResultToken{
		SessionID:          sessionID,
		NegotiatedProtocol: protocolName(protocol),
		TLSVersion:         tlsVersion,
		Established:        time.Now(),
	}
	log.Info().
		Stringer("state", StateEstablished).
		Uint16("user_id", handles.userID).
		Uint32("share_id", handles.shareID).
		Strs("channels", channels.Names()).
		Msg("session established")

	return &Channel{
		conn:            stream,
		userID:          handles.userID,
		ioChannelID:     handles.ioChannel,
		shareID:         handles.shareID,
		channels:        channels,
		channelIDs:      handles.channelIDs,
		serverPublicKey: serverPublicKey,
	}, token, nil
}

// negotiationCookie derives the mstshash cookie from the configured
// username, falling back to the product name for anonymous attempts.
func negotiationCookie(cfg *ConnectionConfig) string {
	if cfg.Credentials.Username != "" {
		return cfg.Credentials.Username
	}
	return "rustconn"
}

func failAttempt(log zerolog.Logger, state ConnState, err error) error {
	log.Error().Stringer("state", StateFailed).Stringer("last_state", state).Err(err).Msg("connection attempt failed")
	return err
}

// classifyDialError maps dial failures onto the error taxonomy. A timeout
// or expired context is a Timeout; anything else, including connection
// refused, fails fast as ConnectionFailed.
func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutErr(PhaseTCPConnect, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutErr(PhaseTCPConnect, err)
	}
	return connectionFailed(PhaseTCPConnect, err)
}

func classifyPhaseError(phase Phase, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutErr(phase, err)
	}
	return connectionFailed(phase, err)
}

func classifyFinalizeError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutErr(PhaseFinalize, err)
	}
	return finalizeFailed(err)
}
