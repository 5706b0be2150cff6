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
	"fmt"
	"io"
)

// X.224 TPDU codes (ITU-T X.224 Table 13).
const (
	x224TPDUConnectionRequest = 0xE0 // CR
	x224TPDUConnectionConfirm = 0xD0 // CC
	x224TPDUData              = 0xF0 // DT

	// Fixed CR header: LI(1) + Code(1) + DST-REF(2) + SRC-REF(2) + Class(1)
	x224CRFixedSize = 7
)

// RDP negotiation structures (MS-RDPBCGR section 2.2.1.1).
const (
	typeRDPNegReq     = 0x01
	typeRDPNegRsp     = 0x02
	typeRDPNegFailure = 0x03

	ProtocolRDP      uint32 = 0x00000000
	ProtocolSSL      uint32 = 0x00000001
	ProtocolHybrid   uint32 = 0x00000002
	ProtocolRDSTLS   uint32 = 0x00000004
	ProtocolHybridEx uint32 = 0x00000008
)

// Negotiation failure codes (MS-RDPBCGR section 2.2.1.2.2).
const (
	sslRequiredByServer     = 0x00000001
	sslNotAllowedByServer   = 0x00000002
	sslCertNotOnServer      = 0x00000003
	inconsistentFlags       = 0x00000004
	hybridRequiredByServer  = 0x00000005
	sslWithUserAuthRequired = 0x00000006
)

// X224ConnectionRequest is an X.224 CR TPDU carrying the RDP negotiation
// request and an optional mstshash cookie in its variable part.
type X224ConnectionRequest struct {
	LengthIndicator uint8
	TPDUCode        uint8
	DstRef          uint16
	SrcRef          uint16
	ClassOptions    uint8
	VariablePart    []byte
}

type rdpNegReq struct {
	Type      uint8
	Flags     uint8
	Length    uint16
	Protocols uint32
}

// NewX224ConnectionRequest builds a CR TPDU requesting TLS and NLA security.
// cookie is the username hint sent as "Cookie: mstshash=..."; empty skips it.
func NewX224ConnectionRequest(cookie string) *X224ConnectionRequest {
	cr := &X224ConnectionRequest{
		TPDUCode: x224TPDUConnectionRequest,
		DstRef:   0,      // always 0 for CR
		SrcRef:   0x1234, // arbitrary source reference
	}

	var variable bytes.Buffer
	if cookie != "" {
		fmt.Fprintf(&variable, "Cookie: mstshash=%s\r\n", cookie)
	}
	binary.Write(&variable, binary.LittleEndian, rdpNegReq{
		Type:      typeRDPNegReq,
		Length:    8,
		Protocols: ProtocolSSL | ProtocolHybrid,
	})

	cr.VariablePart = variable.Bytes()
	cr.LengthIndicator = uint8(x224CRFixedSize - 1 + len(cr.VariablePart))
	return cr
}

// WriteTo implements io.WriterTo for the CR TPDU.
func (cr *X224ConnectionRequest) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(cr.LengthIndicator)
	buf.WriteByte(cr.TPDUCode)
	binary.Write(buf, binary.BigEndian, cr.DstRef)
	binary.Write(buf, binary.BigEndian, cr.SrcRef)
	buf.WriteByte(cr.ClassOptions)
	buf.Write(cr.VariablePart)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// X224ConnectionConfirm is the parsed CC TPDU, including the protocol the
// server selected in its negotiation response.
type X224ConnectionConfirm struct {
	LengthIndicator    uint8
	TPDUCode           uint8
	DstRef             uint16
	SrcRef             uint16
	ClassOptions       uint8
	NegotiatedProtocol uint32
}

// ReadX224ConnectionConfirm reads and parses a CC TPDU. A negotiation
// failure in the variable part is returned as an error.
func ReadX224ConnectionConfirm(r io.Reader) (*X224ConnectionConfirm, error) {
	var cc X224ConnectionConfirm
	if err := binary.Read(r, binary.BigEndian, &cc.LengthIndicator); err != nil {
		return nil, fmt.Errorf("failed to read CC length indicator: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cc.TPDUCode); err != nil {
		return nil, fmt.Errorf("failed to read CC TPDU code: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cc.DstRef); err != nil {
		return nil, fmt.Errorf("failed to read CC DST-REF: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cc.SrcRef); err != nil {
		return nil, fmt.Errorf("failed to read CC SRC-REF: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cc.ClassOptions); err != nil {
		return nil, fmt.Errorf("failed to read CC class options: %w", err)
	}

	if cc.TPDUCode != x224TPDUConnectionConfirm {
		return nil, fmt.Errorf("invalid TPDU code for CC: expected 0x%02X, got 0x%02X",
			x224TPDUConnectionConfirm, cc.TPDUCode)
	}

	if cc.LengthIndicator > x224CRFixedSize-1 {
		negData := make([]byte, int(cc.LengthIndicator)-(x224CRFixedSize-1))
		if _, err := io.ReadFull(r, negData); err != nil {
			return nil, fmt.Errorf("failed to read CC variable part: %w", err)
		}
		protocol, err := parseNegotiationResponse(negData)
		if err != nil {
			return nil, err
		}
		cc.NegotiatedProtocol = protocol
	}

	return &cc, nil
}

// parseNegotiationResponse extracts the server-selected protocol from the CC
// variable part. A TYPE_RDP_NEG_FAILURE record becomes an error.
func parseNegotiationResponse(data []byte) (uint32, error) {
	if len(data) < 8 {
		return ProtocolRDP, nil
	}
	switch data[0] {
	case typeRDPNegRsp:
		return binary.LittleEndian.Uint32(data[4:8]), nil
	case typeRDPNegFailure:
		code := binary.LittleEndian.Uint32(data[4:8])
		return 0, fmt.Errorf("server rejected negotiation: %s", negotiationFailureReason(code))
	default:
		return ProtocolRDP, nil
	}
}

func negotiationFailureReason(code uint32) string {
	switch code {
	case sslRequiredByServer:
		return "SSL/TLS required by server"
	case sslNotAllowedByServer:
		return "SSL/TLS not allowed by server"
	case sslCertNotOnServer:
		return "SSL certificate not configured on server"
	case inconsistentFlags:
		return "inconsistent negotiation flags"
	case hybridRequiredByServer:
		return "CredSSP/NLA required by server"
	case sslWithUserAuthRequired:
		return "SSL with user authentication required"
	default:
		return fmt.Sprintf("unknown failure code 0x%08X", code)
	}
}

// protocolName is used for phase-boundary log events.
func protocolName(protocol uint32) string {
	switch protocol {
	case ProtocolRDP:
		return "standard RDP"
	case ProtocolSSL:
		return "TLS"
	case ProtocolHybrid:
		return "CredSSP (NLA)"
	case ProtocolRDSTLS:
		return "RDSTLS"
	case ProtocolHybridEx:
		return "CredSSP with early user auth"
	default:
		return fmt.Sprintf("unknown (0x%08X)", protocol)
	}
}

// isTLSRequired reports whether the negotiated protocol runs over TLS.
func isTLSRequired(protocol uint32) bool {
	return protocol == ProtocolSSL || protocol == ProtocolHybrid || protocol == ProtocolHybridEx
}

// negotiate runs the X.224 connection request/confirm exchange over the raw
// stream and returns the server-selected protocol.
func negotiate(rw io.ReadWriter, cookie string) (uint32, error) {
	cr := NewX224ConnectionRequest(cookie)

	buf := new(bytes.Buffer)
	tpkt := NewTPKTHeader(int(cr.LengthIndicator) + 1)
	if _, err := tpkt.WriteTo(buf); err != nil {
		return 0, err
	}
	if _, err := cr.WriteTo(buf); err != nil {
		return 0, err
	}
	if _, err := rw.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to send X.224 connection request: %w", err)
	}

	if _, err := ReadTPKTHeader(rw); err != nil {
		return 0, err
	}
	cc, err := ReadX224ConnectionConfirm(rw)
	if err != nil {
		return 0, err
	}
	return cc.NegotiatedProtocol, nil
}

// x224DataHeader is the 3-byte DT TPDU prefix placed before each payload
// after connection establishment.
var x224DataHeader = []byte{0x02, x224TPDUData, 0x80}

// writeDataTPDU frames payload as TPKT + X.224 DT and writes it.
func writeDataTPDU(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(x224DataHeader)+len(payload))
	buf = append(buf, x224DataHeader...)
	buf = append(buf, payload...)
	return writeTPKT(w, buf)
}

// readDataTPDU reads one TPKT packet and strips the X.224 DT header when
// present.
func readDataTPDU(r io.Reader) ([]byte, error) {
	payload, err := readTPKT(r)
	if err != nil {
		return nil, err
	}
	if len(payload) >= 3 && payload[0] == 0x02 && payload[1] == x224TPDUData {
		return payload[3:], nil
	}
	return payload, nil
}
