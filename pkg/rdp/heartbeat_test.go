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
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepaliveSendsHeartbeatPDU(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := &Channel{conn: client, userID: 1007, ioChannelID: 1003, shareID: 7}
	k := ch.NewKeepalive(10*time.Millisecond, zerolog.Nop())
	require.NoError(t, k.Start())
	defer k.Stop()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	inner, err := readDataTPDU(server)
	require.NoError(t, err)

	// MCS send data request framing around the share data PDU.
	require.Equal(t, byte(0x64), inner[0])
	sharePDU := inner[7:]
	assert.Equal(t, byte(pduType2Heartbeat), sharePDU[14])

	assert.True(t, k.Healthy())
	assert.Error(t, k.Start(), "double start must fail")
}

func TestKeepaliveUnhealthyAfterMissedBeats(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	client.Close()

	ch := &Channel{conn: client, userID: 1007, ioChannelID: 1003, shareID: 7}
	k := ch.NewKeepalive(time.Hour, zerolog.Nop())
	require.NoError(t, k.Start())
	defer k.Stop()

	for i := 0; i < 3; i++ {
		k.beat()
	}
	assert.False(t, k.Healthy())
	assert.True(t, k.LastSent().IsZero())
}

func TestKeepaliveRestartsAfterStop(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := &Channel{conn: client, userID: 1007, ioChannelID: 1003, shareID: 7}
	k := ch.NewKeepalive(10*time.Millisecond, zerolog.Nop())

	readBeat := func() {
		t.Helper()
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := readDataTPDU(server)
		require.NoError(t, err)
	}

	require.NoError(t, k.Start())
	readBeat()
	k.Stop()

	require.NoError(t, k.Start())
	readBeat()
	k.Stop()
}

func TestKeepaliveStoppedReportsHealthy(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	ch := &Channel{conn: client}
	k := ch.NewKeepalive(0, zerolog.Nop())
	assert.True(t, k.Healthy())
	k.Stop() // stopping a never-started keepalive is a no-op
}
