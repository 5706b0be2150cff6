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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
)

func TestBERLengthRoundTrip(t *testing.T) {
	tests := []int{0, 1, 127, 128, 255, 256, 1024, 65535}
	for _, length := range tests {
		buf := new(bytes.Buffer)
		berEncodeLength(buf, length)
		got, err := readBERLength(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("readBERLength(%d) error = %v", length, err)
		}
		if got != length {
			t.Errorf("readBERLength() = %d, want %d", got, length)
		}
	}
}

func testFinalizeParams() finalizeParams {
	cfg := DefaultConfig("host")
	cfg.SharedFolders = testFolders(1)
	return finalizeParams{
		cfg:            cfg,
		caps:           BuildCapabilities(ModeBalanced),
		channels:       BuildChannelSet(cfg, zerolog.Nop()),
		keyboardLayout: 0x0409,
		protocol:       ProtocolSSL,
	}
}

func TestBuildClientNetworkData(t *testing.T) {
	p := testFinalizeParams()
	data := buildClientNetworkData(p.channels)

	if got := binary.LittleEndian.Uint16(data[0:]); got != 0xC003 {
		t.Fatalf("block type = 0x%04X, want CS_NET", got)
	}
	wantLen := 8 + 12*len(p.channels)
	if got := int(binary.LittleEndian.Uint16(data[2:])); got != wantLen {
		t.Errorf("block length = %d, want %d", got, wantLen)
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != uint32(len(p.channels)) {
		t.Errorf("channel count = %d, want %d", got, len(p.channels))
	}

	// Channel names are 8 bytes, zero padded, in registration order.
	for i, want := range p.channels.Names() {
		entry := data[8+12*i:]
		name := string(bytes.TrimRight(entry[:8], "\x00"))
		if name != want {
			t.Errorf("channel %d name = %q, want %q", i, name, want)
		}
	}
}

func TestBuildClientCoreData32BPPSignaling(t *testing.T) {
	data := buildClientCoreData(testFinalizeParams())

	if got := binary.LittleEndian.Uint16(data[0:]); got != 0xC001 {
		t.Fatalf("block type = 0x%04X, want CS_CORE", got)
	}
	// Fixed offsets within TS_UD_CS_CORE, counted from the block header.
	if got := binary.LittleEndian.Uint16(data[4+136:]); got != 0x0010 {
		t.Errorf("highColorDepth = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint16(data[4+138:]); got != 0x000A {
		t.Errorf("supportedColorDepths = 0x%04X, want 0x000A", got)
	}
	if got := binary.LittleEndian.Uint16(data[4+140:]); got != 0x0003 {
		t.Errorf("earlyCapabilityFlags = 0x%04X, want 0x0003", got)
	}
}

func TestBuildClientInfoPDU(t *testing.T) {
	cfg := DefaultConfig("host")
	cfg.Credentials = Credentials{Username: "admin", Password: "secret"}
	pdu := buildClientInfoPDU(cfg, defaultPerformanceFlags, -120)

	if got := binary.LittleEndian.Uint16(pdu[0:]); got&secInfoPkt == 0 {
		t.Fatalf("security flags = 0x%04X, missing SEC_INFO_PKT", got)
	}
	flags := binary.LittleEndian.Uint32(pdu[8:])
	if flags&infoUnicode == 0 {
		t.Error("INFO_UNICODE not set")
	}
	if flags&infoAutologon == 0 {
		t.Error("INFO_AUTOLOGON not set despite credentials")
	}
	if !bytes.Contains(pdu, utf16Bytes("admin")) {
		t.Error("username missing from client info")
	}
	if !bytes.Contains(pdu, utf16Bytes("secret")) {
		t.Error("password missing from client info")
	}
	// The performance flags trail the packet.
	if got := binary.LittleEndian.Uint32(pdu[len(pdu)-4:]); got != uint32(defaultPerformanceFlags) {
		t.Errorf("performance flags = 0x%08X, want 0x%08X", got, uint32(defaultPerformanceFlags))
	}
}

func TestBuildClientInfoPDUEmptyCredentials(t *testing.T) {
	cfg := DefaultConfig("host")
	pdu := buildClientInfoPDU(cfg, 0, 0)
	flags := binary.LittleEndian.Uint32(pdu[8:])
	if flags&infoAutologon != 0 {
		t.Error("INFO_AUTOLOGON set for empty credentials")
	}
}

func TestParseMCSConnectResponse(t *testing.T) {
	blocks := new(bytes.Buffer)
	// SC_CORE
	binary.Write(blocks, binary.LittleEndian, uint16(0x0C01))
	binary.Write(blocks, binary.LittleEndian, uint16(8))
	binary.Write(blocks, binary.LittleEndian, uint32(0x00080004))
	// SC_NET: I/O channel 1003, two granted static channels
	binary.Write(blocks, binary.LittleEndian, uint16(0x0C03))
	binary.Write(blocks, binary.LittleEndian, uint16(12))
	binary.Write(blocks, binary.LittleEndian, uint16(1003))
	binary.Write(blocks, binary.LittleEndian, uint16(2))
	binary.Write(blocks, binary.LittleEndian, uint16(1004))
	binary.Write(blocks, binary.LittleEndian, uint16(1005))

	pdu := new(bytes.Buffer)
	pdu.Write([]byte{0x7F, 0x66})
	berEncodeLength(pdu, blocks.Len())
	pdu.Write(blocks.Bytes())

	got, err := parseMCSConnectResponse(pdu.Bytes())
	if err != nil {
		t.Fatalf("parseMCSConnectResponse() error = %v", err)
	}
	if got.ioChannel != 1003 {
		t.Errorf("ioChannel = %d, want 1003", got.ioChannel)
	}
	if len(got.channelIDs) != 2 || got.channelIDs[0] != 1004 || got.channelIDs[1] != 1005 {
		t.Errorf("channelIDs = %v, want [1004 1005]", got.channelIDs)
	}
}

func TestParseMCSConnectResponseRejectsWrongTag(t *testing.T) {
	if _, err := parseMCSConnectResponse([]byte{0x7F, 0x65, 0x00}); err == nil {
		t.Fatal("expected error for connect-initial tag")
	}
}

func TestParseMCSAttachUserConfirm(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uint16
		wantErr bool
	}{
		{name: "user 1007", data: []byte{0x2C, 0x00, 0x06}, want: 1007},
		{name: "failure result", data: []byte{0x2E, 0x00, 0x06}, wantErr: true},
		{name: "wrong tag", data: []byte{0x38, 0x00, 0x06}, wantErr: true},
		{name: "truncated", data: []byte{0x2C}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMCSAttachUserConfirm(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMCSAttachUserConfirm() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("userID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseMCSChannelJoinConfirm(t *testing.T) {
	if err := parseMCSChannelJoinConfirm([]byte{0x3C, 0x00, 0x06, 0x03, 0xEB, 0x03, 0xEB}); err != nil {
		t.Errorf("successful confirm rejected: %v", err)
	}
	if err := parseMCSChannelJoinConfirm([]byte{0x3E, 0x00, 0x06}); err == nil {
		t.Error("failure result accepted")
	}
	if err := parseMCSChannelJoinConfirm([]byte{0x64}); err == nil {
		t.Error("wrong tag accepted")
	}
}

func TestSendOnChannelFraming(t *testing.T) {
	buf := new(bytes.Buffer)
	payload := bytes.Repeat([]byte{0xAB}, 300)
	if err := sendOnChannel(buf, 1007, 1003, payload); err != nil {
		t.Fatalf("sendOnChannel() error = %v", err)
	}

	inner, err := readDataTPDU(buf)
	if err != nil {
		t.Fatalf("readDataTPDU() error = %v", err)
	}
	if inner[0] != 0x64 {
		t.Fatalf("MCS tag = 0x%02X, want send data request", inner[0])
	}
	if got := binary.BigEndian.Uint16(inner[1:]); got != 1007-mcsUserChannelBase {
		t.Errorf("initiator = %d, want %d", got, 1007-mcsUserChannelBase)
	}
	if got := binary.BigEndian.Uint16(inner[3:]); got != 1003 {
		t.Errorf("channel = %d, want 1003", got)
	}
	if !bytes.HasSuffix(inner, payload) {
		t.Error("payload not carried through")
	}
}

func TestReadChannelPDUStripsIndication(t *testing.T) {
	payload := []byte{0xDE, 0xAD}
	sdin := new(bytes.Buffer)
	sdin.WriteByte(0x68)
	binary.Write(sdin, binary.BigEndian, uint16(2))    // initiator
	binary.Write(sdin, binary.BigEndian, uint16(1003)) // channel
	sdin.WriteByte(0x70)
	sdin.WriteByte(byte(len(payload)))
	sdin.Write(payload)

	buf := new(bytes.Buffer)
	if err := writeDataTPDU(buf, sdin.Bytes()); err != nil {
		t.Fatalf("writeDataTPDU() error = %v", err)
	}
	got, err := readChannelPDU(buf)
	if err != nil {
		t.Fatalf("readChannelPDU() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("readChannelPDU() = %x, want %x", got, payload)
	}
}

func TestBuildConfirmActivePDU(t *testing.T) {
	size := DesktopSize{Width: 1280, Height: 720}

	withCodecs := buildConfirmActivePDU(0x12345678, 1007, size, BuildCapabilities(ModeBalanced))
	if got := binary.LittleEndian.Uint16(withCodecs[2:]) & 0x0F; got != pduTypeConfirmActive {
		t.Fatalf("PDU type = 0x%X, want confirm active", got)
	}
	if got := binary.LittleEndian.Uint32(withCodecs[6:]); got != 0x12345678 {
		t.Errorf("shareID = 0x%08X, want 0x12345678", got)
	}
	// numberCapabilities sits after shareID(4) + originator(2) + lenSrc(2)
	// + lenCaps(2) + sourceDescriptor(4).
	if got := binary.LittleEndian.Uint16(withCodecs[20:]); got != 5 {
		t.Errorf("capability count = %d, want 5 with codecs", got)
	}

	speedOnly := buildConfirmActivePDU(1, 1007, size, BuildCapabilities(ModeSpeed))
	if got := binary.LittleEndian.Uint16(speedOnly[20:]); got != 4 {
		t.Errorf("capability count = %d, want 4 without codecs", got)
	}
	if len(speedOnly) >= len(withCodecs) {
		t.Error("speed mode confirm active should be smaller than the codec-bearing one")
	}
}

func TestWrapShareDataLengths(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	pdu := wrapShareData(7, 1007, pduType2Synchronize, payload)

	if got := int(binary.LittleEndian.Uint16(pdu[0:])); got != len(pdu) {
		t.Errorf("totalLength = %d, want %d", got, len(pdu))
	}
	if got := binary.LittleEndian.Uint16(pdu[2:]) & 0x0F; got != pduTypeData {
		t.Errorf("PDU type = 0x%X, want data PDU", got)
	}
	if pdu[14] != pduType2Synchronize {
		t.Errorf("pduType2 = 0x%02X, want synchronize", pdu[14])
	}
}

func TestLicenseErrorAlert(t *testing.T) {
	pdu := buildLicenseErrorAlert()
	if got := binary.LittleEndian.Uint16(pdu[0:]); got != secLicensePkt {
		t.Fatalf("security flags = 0x%04X, want SEC_LICENSE_PKT", got)
	}
	if pdu[4] != 0xFF {
		t.Errorf("message type = 0x%02X, want ERROR_ALERT", pdu[4])
	}
	if got := binary.LittleEndian.Uint32(pdu[8:]); got != 0x00000007 {
		t.Errorf("error code = 0x%08X, want STATUS_VALID_CLIENT", got)
	}
}
