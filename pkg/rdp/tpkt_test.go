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
	"testing"
)

func TestTPKTHeader(t *testing.T) {
	tests := []struct {
		name        string
		payloadSize int
		wantLength  uint16
	}{
		{
			name:        "small payload",
			payloadSize: 10,
			wantLength:  14, // 4 (TPKT header) + 10 (payload)
		},
		{
			name:        "negotiation request",
			payloadSize: 19,
			wantLength:  23,
		},
		{
			name:        "large payload",
			payloadSize: 1000,
			wantLength:  1004,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTPKTHeader(tt.payloadSize)
			if h.Version != tpktVersion {
				t.Errorf("NewTPKTHeader() version = %v, want %v", h.Version, tpktVersion)
			}
			if h.Length != tt.wantLength {
				t.Errorf("NewTPKTHeader() length = %v, want %v", h.Length, tt.wantLength)
			}
			if h.PayloadSize() != tt.payloadSize {
				t.Errorf("PayloadSize() = %v, want %v", h.PayloadSize(), tt.payloadSize)
			}
		})
	}
}

func TestTPKTRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := new(bytes.Buffer)
	if err := writeTPKT(buf, payload); err != nil {
		t.Fatalf("writeTPKT() error = %v", err)
	}
	if got := buf.Len(); got != tpktHeaderSize+len(payload) {
		t.Fatalf("writeTPKT() wrote %d bytes, want %d", got, tpktHeaderSize+len(payload))
	}

	got, err := readTPKT(buf)
	if err != nil {
		t.Fatalf("readTPKT() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("readTPKT() = %x, want %x", got, payload)
	}
}

func TestReadTPKTHeaderRejectsBadVersion(t *testing.T) {
	_, err := ReadTPKTHeader(bytes.NewReader([]byte{0x04, 0x00, 0x00, 0x08}))
	if err == nil {
		t.Fatal("ReadTPKTHeader() expected error for version 4, got nil")
	}
}

func TestReadTPKTHeaderRejectsShortLength(t *testing.T) {
	_, err := ReadTPKTHeader(bytes.NewReader([]byte{0x03, 0x00, 0x00, 0x02}))
	if err == nil {
		t.Fatal("ReadTPKTHeader() expected error for length 2, got nil")
	}
}
