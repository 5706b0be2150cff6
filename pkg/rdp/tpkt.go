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
	"encoding/binary"
	"fmt"
	"io"
)

// TPKT constants (RFC 1006). TPKT transports OSI TSAP over TCP and frames
// every PDU of the connection sequence.
const (
	tpktVersion    = 3
	tpktHeaderSize = 4 // Version(1) + Reserved(1) + Length(2)
)

// TPKTHeader is the 4-byte packet header preceding each TPDU.
type TPKTHeader struct {
	Version  uint8
	Reserved uint8
	Length   uint16 // total packet length including this header, big-endian
}

// NewTPKTHeader creates a header for a payload of the given size.
func NewTPKTHeader(payloadSize int) *TPKTHeader {
	return &TPKTHeader{
		Version: tpktVersion,
		Length:  uint16(payloadSize + tpktHeaderSize),
	}
}

// WriteTo implements io.WriterTo in network byte order.
func (h *TPKTHeader) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return 0, fmt.Errorf("failed to write TPKT header: %w", err)
	}
	return tpktHeaderSize, nil
}

// PayloadSize returns the packet size excluding the header.
func (h *TPKTHeader) PayloadSize() int {
	return int(h.Length) - tpktHeaderSize
}

// ReadTPKTHeader reads and validates a TPKT header.
func ReadTPKTHeader(r io.Reader) (*TPKTHeader, error) {
	var h TPKTHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read TPKT header: %w", err)
	}
	if h.Version != tpktVersion {
		return nil, fmt.Errorf("invalid TPKT version: expected %d, got %d", tpktVersion, h.Version)
	}
	if h.Length < tpktHeaderSize {
		return nil, fmt.Errorf("invalid TPKT length: %d", h.Length)
	}
	return &h, nil
}

// writeTPKT frames payload with a TPKT header and writes the whole packet.
func writeTPKT(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, tpktHeaderSize+len(payload))
	buf = append(buf, tpktVersion, 0)
	buf = binary.BigEndian.AppendUint16(buf, uint16(tpktHeaderSize+len(payload)))
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write TPKT packet: %w", err)
	}
	return nil
}

// readTPKT reads one TPKT packet and returns its payload.
func readTPKT(r io.Reader) ([]byte, error) {
	h, err := ReadTPKTHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.PayloadSize())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read TPKT payload: %w", err)
	}
	return payload, nil
}
