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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const pduType2Heartbeat = 0x31

// Keepalive periodically writes a heartbeat PDU on an established session
// so that NAT mappings and idle-timeout middleboxes keep the transport
// alive, and tracks how many consecutive sends have failed.
type Keepalive struct {
	channel   *Channel
	log       zerolog.Logger
	period    time.Duration
	maxMissed int

	mu       sync.Mutex
	missed   int
	lastSent time.Time
	running  bool
	stop     chan struct{}
}

// NewKeepalive returns a stopped keepalive for the channel. The zero
// period defaults to 30 seconds with 3 tolerated consecutive failures.
func (c *Channel) NewKeepalive(period time.Duration, log zerolog.Logger) *Keepalive {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &Keepalive{
		channel:   c,
		log:       log,
		period:    period,
		maxMissed: 3,
	}
}

// Start launches the keepalive loop on its own goroutine. This is the only
// part of the package that writes to the transport concurrently with the
// owner; writes go through Channel.Send which serializes whole PDUs.
func (k *Keepalive) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("keepalive already running")
	}
	k.running = true
	k.missed = 0
	// A fresh channel per run so a stopped keepalive can be started again.
	k.stop = make(chan struct{})
	go k.loop(k.stop)
	return nil
}

// Stop halts the loop. Safe to call more than once.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}
	k.running = false
	close(k.stop)
}

func (k *Keepalive) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(k.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.beat()
		case <-stop:
			return
		}
	}
}

func (k *Keepalive) beat() {
	pdu := wrapShareData(k.channel.shareID, k.channel.userID, pduType2Heartbeat, []byte{0, 0, 0, 0})
	err := sendOnChannel(k.channel.conn, k.channel.userID, k.channel.ioChannelID, pdu)

	k.mu.Lock()
	defer k.mu.Unlock()
	if err != nil {
		k.missed++
		k.log.Warn().Err(err).Int("missed", k.missed).Msg("heartbeat send failed")
		return
	}
	k.missed = 0
	k.lastSent = time.Now()
}

// Healthy reports whether the transport accepted a heartbeat recently
// enough. A keepalive that never ran reports healthy.
func (k *Keepalive) Healthy() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return true
	}
	if k.missed >= k.maxMissed {
		return false
	}
	if !k.lastSent.IsZero() && time.Since(k.lastSent) > k.period*time.Duration(k.maxMissed) {
		return false
	}
	return true
}

// LastSent returns when the last heartbeat was accepted by the transport.
func (k *Keepalive) LastSent() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastSent
}
