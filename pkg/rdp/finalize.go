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

// Finalizing phase of the connection sequence: basic settings exchange
// (MCS Connect Initial/Response carrying the GCC conference blocks), MCS
// domain join, the client info PDU with credentials, the licensing exchange
// and the capability exchange up to the finalization PDUs.
// References: [MS-RDPBCGR] sections 1.3.1.1, 2.2.1.

package rdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"
)

// MCS channel IDs (MS-RDPBCGR section 2.2.1.3.2).
const (
	mcsChannelGlobal   = 1003
	mcsUserChannelBase = 1001
)

// Security header flags (MS-RDPBCGR section 2.2.8.1.1.2.1).
const (
	secInfoPkt    = 0x0040
	secLicensePkt = 0x0080
)

// Share control PDU types (MS-RDPBCGR section 2.2.8.1.1.1.1).
const (
	pduTypeDemandActive  = 0x11
	pduTypeConfirmActive = 0x13
	pduTypeData          = 0x17
)

// Share data PDU types (MS-RDPBCGR section 2.2.8.1.1.1.2).
const (
	pduType2Control     = 0x14
	pduType2Synchronize = 0x1F
	pduType2FontList    = 0x27
)

// Control actions (MS-RDPBCGR section 2.2.1.15.1).
const (
	ctrlActionRequestControl = 0x0001
	ctrlActionCooperate      = 0x0004
)

// Capability set types (MS-RDPBCGR section 2.2.1.13.1.1.1).
const (
	capsTypeGeneral      = 0x0001
	capsTypeBitmap       = 0x0002
	capsTypeOrder        = 0x0003
	capsTypePointer      = 0x0008
	capsTypeBitmapCodecs = 0x001D
)

// Client info flags (MS-RDPBCGR section 2.2.1.11.1.1).
const (
	infoMouse             = 0x00000001
	infoDisableCtrlAltDel = 0x00000002
	infoAutologon         = 0x00000008
	infoUnicode           = 0x00000010
	infoMaximizeShell     = 0x00000020
	infoEnableWindowsKey  = 0x00000100
)

// finalizeParams are the precomputed handshake inputs presented to the
// server during the Finalizing phase.
type finalizeParams struct {
	cfg             *ConnectionConfig
	caps            CapabilityDescriptor
	channels        ChannelSet
	keyboardLayout  uint32
	protocol        uint32 // server-selected security protocol
	serverPublicKey []byte
}

// sessionHandles are the identifiers of a finalized session.
type sessionHandles struct {
	userID     uint16
	ioChannel  uint16
	shareID    uint32
	channelIDs map[string]uint16 // static channel name -> MCS channel ID
}

// finalizeSession drives the credential and capability exchange over the
// upgraded stream. It uses a non-thread-safe encoder state and must run to
// completion on the goroutine that started the attempt.
func finalizeSession(rw io.ReadWriter, p finalizeParams, log zerolog.Logger) (*sessionHandles, error) {
	// Basic settings exchange.
	if err := writeDataTPDU(rw, buildMCSConnectInitial(p)); err != nil {
		return nil, fmt.Errorf("basic settings exchange: %w", err)
	}
	resp, err := readDataTPDU(rw)
	if err != nil {
		return nil, fmt.Errorf("basic settings exchange: %w", err)
	}
	serverNet, err := parseMCSConnectResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("basic settings exchange: %w", err)
	}
	log.Debug().
		Uint16("io_channel", serverNet.ioChannel).
		Int("static_channels", len(serverNet.channelIDs)).
		Msg("server basic settings received")

	// MCS domain join.
	handles := &sessionHandles{
		ioChannel:  serverNet.ioChannel,
		channelIDs: make(map[string]uint16, len(p.channels)),
	}
	if err := writeDataTPDU(rw, buildMCSErectDomainRequest()); err != nil {
		return nil, err
	}
	if err := writeDataTPDU(rw, buildMCSAttachUserRequest()); err != nil {
		return nil, err
	}
	confirm, err := readDataTPDU(rw)
	if err != nil {
		return nil, err
	}
	handles.userID, err = parseMCSAttachUserConfirm(confirm)
	if err != nil {
		return nil, fmt.Errorf("attach user: %w", err)
	}

	joinList := []uint16{handles.userID, serverNet.ioChannel}
	joinList = append(joinList, serverNet.channelIDs...)
	for i, channelID := range joinList {
		if err := writeDataTPDU(rw, buildMCSChannelJoinRequest(handles.userID, channelID)); err != nil {
			return nil, err
		}
		joined, err := readDataTPDU(rw)
		if err != nil {
			return nil, err
		}
		if err := parseMCSChannelJoinConfirm(joined); err != nil {
			return nil, fmt.Errorf("join channel %d: %w", channelID, err)
		}
		// Static channel IDs follow the user and I/O channels in the
		// order the channel set was announced.
		if i >= 2 && i-2 < len(p.channels) {
			handles.channelIDs[p.channels[i-2].Name] = channelID
		}
	}

	// Credential exchange. Empty credentials are submitted as empty
	// strings; the remote host prompts on its own login screen.
	info := buildClientInfoPDU(p.cfg, p.caps.PerformanceFlags, TimezoneBias(time.Now()))
	if err := sendOnChannel(rw, handles.userID, serverNet.ioChannel, info); err != nil {
		return nil, fmt.Errorf("client info: %w", err)
	}
	log.Debug().
		Bool("has_credentials", !p.cfg.Credentials.IsZero()).
		Str("domain", p.cfg.Domain).
		Msg("client info sent")

	// Licensing. A valid-client error alert is the normal outcome.
	if err := exchangeLicensing(rw, handles, log); err != nil {
		return nil, fmt.Errorf("licensing: %w", err)
	}

	// Capability exchange.
	shareID, err := receiveDemandActive(rw)
	if err != nil {
		return nil, fmt.Errorf("demand active: %w", err)
	}
	handles.shareID = shareID
	confirmActive := buildConfirmActivePDU(shareID, handles.userID, p.cfg.DesktopSize, p.caps)
	if err := sendOnChannel(rw, handles.userID, serverNet.ioChannel, confirmActive); err != nil {
		return nil, fmt.Errorf("confirm active: %w", err)
	}

	// Connection finalization.
	for _, pdu := range [][]byte{
		buildSynchronizePDU(shareID, handles.userID),
		buildControlPDU(shareID, handles.userID, ctrlActionCooperate),
		buildControlPDU(shareID, handles.userID, ctrlActionRequestControl),
		buildFontListPDU(shareID, handles.userID),
	} {
		if err := sendOnChannel(rw, handles.userID, serverNet.ioChannel, pdu); err != nil {
			return nil, fmt.Errorf("finalization: %w", err)
		}
	}

	return handles, nil
}

// --- BER helpers (ITU-T T.125 uses definite-length BER) ---

func berEncodeLength(w *bytes.Buffer, length int) {
	switch {
	case length < 128:
		w.WriteByte(byte(length))
	case length < 256:
		w.WriteByte(0x81)
		w.WriteByte(byte(length))
	default:
		w.WriteByte(0x82)
		w.WriteByte(byte(length >> 8))
		w.WriteByte(byte(length))
	}
}

func readBERLength(r *bytes.Reader) (int, error) {
	lenByte, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if lenByte&0x80 == 0 {
		return int(lenByte), nil
	}
	lenBytes := int(lenByte & 0x7F)
	if lenBytes > r.Len() || lenBytes > 2 {
		return 0, fmt.Errorf("invalid BER length")
	}
	buf := make([]byte, lenBytes)
	r.Read(buf)
	if lenBytes == 1 {
		return int(buf[0]), nil
	}
	return int(binary.BigEndian.Uint16(buf)), nil
}

// --- MCS Connect Initial / GCC conference create ---

// buildMCSConnectInitial builds the Connect-Initial PDU whose user data
// carries the GCC conference create request with the client core, security
// and network blocks.
func buildMCSConnectInitial(p finalizeParams) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0x7F)
	buf.WriteByte(0x65)
	lengthPos := buf.Len()
	buf.Write([]byte{0x82, 0x00, 0x00}) // patched below

	buf.Write([]byte{0x04, 0x01, 0x01}) // calling domain selector
	buf.Write([]byte{0x04, 0x01, 0x01}) // called domain selector
	buf.Write([]byte{0x01, 0x01, 0xFF}) // upward flag TRUE

	// target, minimum and maximum domain parameters
	buf.Write([]byte{0x30, 0x19,
		0x02, 0x01, 0x22, 0x02, 0x01, 0x02, 0x02, 0x01, 0x00, 0x02, 0x01, 0x01,
		0x02, 0x01, 0x00, 0x02, 0x01, 0x01, 0x02, 0x02, 0xFF, 0xFF, 0x02, 0x01, 0x02})
	buf.Write([]byte{0x30, 0x19,
		0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01,
		0x02, 0x01, 0x00, 0x02, 0x01, 0x01, 0x02, 0x02, 0x04, 0x20, 0x02, 0x01, 0x02})
	buf.Write([]byte{0x30, 0x1C,
		0x02, 0x02, 0xFF, 0xFF, 0x02, 0x02, 0xFC, 0x17, 0x02, 0x02, 0xFF, 0xFF,
		0x02, 0x01, 0x01, 0x02, 0x01, 0x00, 0x02, 0x01, 0x01, 0x02, 0x02, 0xFF, 0xFF,
		0x02, 0x01, 0x02})

	userData := buildConferenceCreateRequest(p)
	buf.WriteByte(0x04)
	berEncodeLength(buf, len(userData))
	buf.Write(userData)

	data := buf.Bytes()
	payloadLen := len(data) - 5
	data[lengthPos+1] = byte(payloadLen >> 8)
	data[lengthPos+2] = byte(payloadLen)
	return data
}

// buildConferenceCreateRequest wraps the client GCC blocks in the T.124
// conference create request encoding Windows servers accept.
func buildConferenceCreateRequest(p finalizeParams) []byte {
	blocks := new(bytes.Buffer)
	blocks.Write(buildClientCoreData(p))
	blocks.Write(buildClientSecurityData())
	blocks.Write(buildClientNetworkData(p.channels))

	// OID 0.0.20.124.0.1
	h221OID := []byte{0x00, 0x14, 0x7C, 0x00, 0x01}

	inner := new(bytes.Buffer)
	inner.WriteByte(0x00)
	inner.WriteByte(0x05)
	inner.Write(h221OID)
	inner.WriteByte(0x04)
	berEncodeLength(inner, blocks.Len())
	inner.Write(blocks.Bytes())

	connectData := new(bytes.Buffer)
	connectData.WriteByte(0x30)
	berEncodeLength(connectData, inner.Len())
	connectData.Write(inner.Bytes())

	gccInner := new(bytes.Buffer)
	gccInner.WriteByte(0x00)
	gccInner.WriteByte(0x05)
	gccInner.Write(h221OID)
	gccInner.WriteByte(0x04)
	berEncodeLength(gccInner, connectData.Len())
	gccInner.Write(connectData.Bytes())

	gccUserData := new(bytes.Buffer)
	gccUserData.WriteByte(0x30)
	berEncodeLength(gccUserData, gccInner.Len())
	gccUserData.Write(gccInner.Bytes())

	userDataSet := new(bytes.Buffer)
	userDataSet.WriteByte(0xA3) // [3] IMPLICIT SET OF GCCUserData
	berEncodeLength(userDataSet, gccUserData.Len())
	userDataSet.Write(gccUserData.Bytes())

	req := new(bytes.Buffer)
	req.WriteByte(0x30)
	berEncodeLength(req, userDataSet.Len())
	req.Write(userDataSet.Bytes())
	return req.Bytes()
}

// buildClientCoreData encodes TS_UD_CS_CORE. The 32-bit session is signaled
// through supportedColorDepths plus the WANT_32BPP_SESSION early capability
// flag; highColorDepth itself tops out at 16 in that encoding. Sending a
// plain 24-bit block instead makes some cloud hosts drop the connection.
func buildClientCoreData(p finalizeParams) []byte {
	body := new(bytes.Buffer)

	binary.Write(body, binary.LittleEndian, uint32(0x00080004)) // RDP 5.0+ client
	binary.Write(body, binary.LittleEndian, p.cfg.DesktopSize.Width)
	binary.Write(body, binary.LittleEndian, p.cfg.DesktopSize.Height)
	binary.Write(body, binary.LittleEndian, uint16(0xCA01)) // colorDepth: RNS_UD_COLOR_8BPP, superseded below
	binary.Write(body, binary.LittleEndian, uint16(0xAA03)) // SASSequence RNS_UD_SAS_DEL
	binary.Write(body, binary.LittleEndian, p.keyboardLayout)
	binary.Write(body, binary.LittleEndian, uint32(7601)) // clientBuild

	// clientName, 32 bytes UTF-16LE
	body.Write(fixedUTF16("RustConn", 32))

	binary.Write(body, binary.LittleEndian, uint32(0x04)) // keyboardType: IBM enhanced
	binary.Write(body, binary.LittleEndian, uint32(0))    // keyboardSubType
	binary.Write(body, binary.LittleEndian, uint32(12))   // keyboardFunctionKey
	body.Write(make([]byte, 64))                          // imeFileName

	binary.Write(body, binary.LittleEndian, uint16(0xCA01)) // postBeta2ColorDepth
	binary.Write(body, binary.LittleEndian, uint16(1))      // clientProductId
	binary.Write(body, binary.LittleEndian, uint32(0))      // serialNumber
	binary.Write(body, binary.LittleEndian, uint16(0x0010)) // highColorDepth: 16
	// supportedColorDepths: 32bpp | 16bpp
	binary.Write(body, binary.LittleEndian, uint16(0x0008|0x0002))
	// earlyCapabilityFlags: SUPPORT_ERRINFO_PDU | WANT_32BPP_SESSION
	binary.Write(body, binary.LittleEndian, uint16(0x0001|0x0002))
	body.Write(make([]byte, 64)) // clientDigProductId
	body.WriteByte(0)            // connectionType
	body.WriteByte(0)            // pad1octet
	binary.Write(body, binary.LittleEndian, p.protocol)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(0xC001)) // CS_CORE
	binary.Write(buf, binary.LittleEndian, uint16(4+body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// buildClientSecurityData encodes TS_UD_CS_SEC. With TLS negotiated the
// legacy encryption method must be none ([MS-RDPBCGR] 5.4.1).
func buildClientSecurityData() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(0xC002)) // CS_SECURITY
	binary.Write(buf, binary.LittleEndian, uint16(12))
	binary.Write(buf, binary.LittleEndian, uint32(0)) // encryptionMethods
	binary.Write(buf, binary.LittleEndian, uint32(0)) // extEncryptionMethods
	return buf.Bytes()
}

// Static channel option flags (MS-RDPBCGR section 2.2.1.3.4.1).
const (
	channelOptionInitialized  = 0x80000000
	channelOptionEncryptRDP   = 0x40000000
	channelOptionCompressRDP  = 0x00800000
	channelOptionShowProtocol = 0x00200000
)

// buildClientNetworkData encodes TS_UD_CS_NET with one channel definition
// per entry of the channel set, preserving registration order.
func buildClientNetworkData(channels ChannelSet) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(0xC003)) // CS_NET
	binary.Write(buf, binary.LittleEndian, uint16(4+4+12*len(channels)))
	binary.Write(buf, binary.LittleEndian, uint32(len(channels)))
	for _, ch := range channels {
		name := make([]byte, 8)
		copy(name, ch.Name)
		buf.Write(name)
		binary.Write(buf, binary.LittleEndian, uint32(channelOptionInitialized|channelOptionEncryptRDP))
	}
	return buf.Bytes()
}

// serverNetworkData is the parsed server response: the I/O channel and the
// MCS channel ID granted for each requested static channel, in request
// order.
type serverNetworkData struct {
	ioChannel  uint16
	channelIDs []uint16
}

// parseMCSConnectResponse extracts the server network data block from the
// GCC conference create response carried in the MCS Connect Response.
func parseMCSConnectResponse(data []byte) (*serverNetworkData, error) {
	if len(data) < 2 || data[0] != 0x7F || data[1] != 0x66 {
		return nil, fmt.Errorf("invalid MCS connect response tag")
	}
	r := bytes.NewReader(data[2:])
	length, err := readBERLength(r)
	if err != nil {
		return nil, err
	}
	if r.Len() < length {
		return nil, fmt.Errorf("length mismatch in MCS connect response")
	}
	payload := data[len(data)-length:]

	// Locate the server core data header and walk the blocks from there.
	offset := -1
	for i := 0; i+4 < len(payload); i++ {
		if binary.LittleEndian.Uint16(payload[i:]) == 0x0C01 {
			offset = i
			break
		}
	}
	if offset == -1 {
		return nil, fmt.Errorf("server core data block not found in GCC response")
	}

	out := &serverNetworkData{ioChannel: mcsChannelGlobal}
	br := bytes.NewReader(payload[offset:])
	for br.Len() >= 4 {
		var blockType, blockLen uint16
		binary.Read(br, binary.LittleEndian, &blockType)
		binary.Read(br, binary.LittleEndian, &blockLen)
		if blockLen < 4 || br.Len() < int(blockLen-4) {
			break
		}
		block := make([]byte, blockLen-4)
		br.Read(block)

		if blockType != 0x0C03 { // SC_NET
			continue
		}
		if len(block) < 4 {
			return nil, fmt.Errorf("server network data too short")
		}
		out.ioChannel = binary.LittleEndian.Uint16(block[0:])
		count := int(binary.LittleEndian.Uint16(block[2:]))
		if len(block) < 4+2*count {
			return nil, fmt.Errorf("server network data truncated: %d channels", count)
		}
		for i := 0; i < count; i++ {
			out.channelIDs = append(out.channelIDs, binary.LittleEndian.Uint16(block[4+2*i:]))
		}
	}
	return out, nil
}

// --- MCS domain PDUs ---

func buildMCSErectDomainRequest() []byte {
	return []byte{0x04, 0x01, 0x00, 0x01, 0x00}
}

func buildMCSAttachUserRequest() []byte {
	return []byte{0x28}
}

func buildMCSChannelJoinRequest(userID, channelID uint16) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0x38)
	binary.Write(buf, binary.BigEndian, userID-mcsUserChannelBase)
	binary.Write(buf, binary.BigEndian, channelID)
	return buf.Bytes()
}

func parseMCSAttachUserConfirm(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("attach user confirm too short")
	}
	if data[0]>>2 != 0x0B {
		return 0, fmt.Errorf("unexpected attach user confirm tag 0x%02X", data[0])
	}
	if result := data[0] & 0x03; result != 0 {
		return 0, fmt.Errorf("attach user failed with result 0x%x", result)
	}
	if len(data) < 3 {
		return 0, fmt.Errorf("attach user confirm missing initiator")
	}
	return mcsUserChannelBase + binary.BigEndian.Uint16(data[1:3]), nil
}

func parseMCSChannelJoinConfirm(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("channel join confirm too short")
	}
	if data[0]>>2 != 0x0F {
		return fmt.Errorf("unexpected channel join confirm tag 0x%02X", data[0])
	}
	if result := data[0] & 0x03; result != 0 {
		return fmt.Errorf("channel join failed with result 0x%x", result)
	}
	return nil
}

// sendOnChannel wraps payload in an MCS Send Data Request on the given
// channel and writes it as a data TPDU.
func sendOnChannel(w io.Writer, userID, channelID uint16, payload []byte) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(0x64)
	binary.Write(buf, binary.BigEndian, userID-mcsUserChannelBase)
	binary.Write(buf, binary.BigEndian, channelID)
	buf.WriteByte(0x70) // dataPriority high, complete segmentation
	berEncodeLength(buf, len(payload))
	buf.Write(payload)
	return writeDataTPDU(w, buf.Bytes())
}

// readChannelPDU reads one data TPDU and strips the MCS Send Data
// Indication framing when present.
func readChannelPDU(r io.Reader) ([]byte, error) {
	payload, err := readDataTPDU(r)
	if err != nil {
		return nil, err
	}
	if len(payload) < 1 || payload[0] != 0x68 { // SDin
		return payload, nil
	}
	if len(payload) < 7 {
		return nil, fmt.Errorf("send data indication too short")
	}
	rest := payload[6:] // tag(1) + initiator(2) + channel(2) + priority(1)
	if len(rest) < 1 {
		return nil, fmt.Errorf("send data indication missing length")
	}
	switch {
	case rest[0]&0x80 == 0:
		return rest[1:], nil
	case rest[0] == 0x81 && len(rest) >= 2:
		return rest[2:], nil
	case rest[0] == 0x82 && len(rest) >= 3:
		return rest[3:], nil
	default:
		return nil, fmt.Errorf("invalid send data indication length encoding")
	}
}

// --- Client info PDU ---

// buildClientInfoPDU encodes TS_INFO_PACKET plus the extended info packet
// carrying the client timezone and performance flags, wrapped in a
// SEC_INFO_PKT security header. Empty credential fields are allowed.
func buildClientInfoPDU(cfg *ConnectionConfig, perf PerformanceFlags, timezoneBias int32) []byte {
	flags := uint32(infoMouse | infoUnicode | infoMaximizeShell | infoEnableWindowsKey | infoDisableCtrlAltDel)
	if !cfg.Credentials.IsZero() {
		flags |= infoAutologon
	}

	domain := utf16Bytes(cfg.Domain)
	user := utf16Bytes(cfg.Credentials.Username)
	password := utf16Bytes(cfg.Credentials.Password)

	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(0)) // codePage
	binary.Write(body, binary.LittleEndian, flags)
	binary.Write(body, binary.LittleEndian, uint16(len(domain)))
	binary.Write(body, binary.LittleEndian, uint16(len(user)))
	binary.Write(body, binary.LittleEndian, uint16(len(password)))
	binary.Write(body, binary.LittleEndian, uint16(0)) // cbAlternateShell
	binary.Write(body, binary.LittleEndian, uint16(0)) // cbWorkingDir
	writeNullTerminated(body, domain)
	writeNullTerminated(body, user)
	writeNullTerminated(body, password)
	writeNullTerminated(body, nil) // alternateShell
	writeNullTerminated(body, nil) // workingDir

	// TS_EXTENDED_INFO_PACKET
	binary.Write(body, binary.LittleEndian, uint16(0x0002)) // clientAddressFamily AF_INET
	binary.Write(body, binary.LittleEndian, uint16(2))      // cbClientAddress incl. terminator
	body.Write([]byte{0, 0})
	binary.Write(body, binary.LittleEndian, uint16(2)) // cbClientDir incl. terminator
	body.Write([]byte{0, 0})
	writeTimezoneInfo(body, timezoneBias)
	binary.Write(body, binary.LittleEndian, uint32(0)) // clientSessionId
	binary.Write(body, binary.LittleEndian, uint32(perf))

	pdu := new(bytes.Buffer)
	binary.Write(pdu, binary.LittleEndian, uint16(secInfoPkt))
	binary.Write(pdu, binary.LittleEndian, uint16(0)) // flagsHi
	pdu.Write(body.Bytes())
	return pdu.Bytes()
}

// writeTimezoneInfo encodes the 172-byte TS_TIME_ZONE_INFORMATION block.
// Only the bias is populated; names and DST transition dates stay zero.
func writeTimezoneInfo(w *bytes.Buffer, bias int32) {
	binary.Write(w, binary.LittleEndian, bias)
	w.Write(make([]byte, 64)) // StandardName
	w.Write(make([]byte, 16)) // StandardDate
	binary.Write(w, binary.LittleEndian, int32(0))
	w.Write(make([]byte, 64)) // DaylightName
	w.Write(make([]byte, 16)) // DaylightDate
	binary.Write(w, binary.LittleEndian, int32(0))
}

func utf16Bytes(s string) []byte {
	codes := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(codes))
	for i, c := range codes {
		binary.LittleEndian.PutUint16(out[2*i:], c)
	}
	return out
}

func writeNullTerminated(w *bytes.Buffer, utf16le []byte) {
	w.Write(utf16le)
	w.Write([]byte{0, 0})
}

func fixedUTF16(s string, size int) []byte {
	out := make([]byte, size)
	copy(out, utf16Bytes(s))
	return out
}

// --- Licensing ---

// exchangeLicensing consumes the server licensing PDU that follows the
// client info. Per [MS-RDPBCGR] 1.3.1.1 the server either sends a
// valid-client error alert, which ends the exchange, or starts a full
// license negotiation, which this client declines with an error alert of
// its own (servers then fall back to a trial license).
func exchangeLicensing(rw io.ReadWriter, handles *sessionHandles, log zerolog.Logger) error {
	payload, err := readChannelPDU(rw)
	if err != nil {
		return err
	}
	if len(payload) < 4 {
		return fmt.Errorf("licensing PDU too short")
	}
	secFlags := binary.LittleEndian.Uint16(payload[0:])
	if secFlags&secLicensePkt == 0 {
		return fmt.Errorf("expected licensing PDU, got security flags 0x%04X", secFlags)
	}
	licenseData := payload[4:]
	if len(licenseData) >= 1 && licenseData[0] == 0xFF {
		log.Debug().Msg("server sent license error alert (valid client)")
		return nil
	}
	// Server wants a real license negotiation; decline politely.
	return sendOnChannel(rw, handles.userID, handles.ioChannel, buildLicenseErrorAlert())
}

// buildLicenseErrorAlert encodes a LICENSE_ERROR_MESSAGE with
// STATUS_VALID_CLIENT and ST_NO_TRANSITION ([MS-RDPBCGR] 2.2.1.12.1.3).
func buildLicenseErrorAlert() []byte {
	body := new(bytes.Buffer)
	body.WriteByte(0xFF) // ERROR_ALERT
	body.WriteByte(0x03) // PREAMBLE_VERSION_3_0
	binary.Write(body, binary.LittleEndian, uint16(16)) // wMsgSize
	binary.Write(body, binary.LittleEndian, uint32(0x00000007)) // STATUS_VALID_CLIENT
	binary.Write(body, binary.LittleEndian, uint32(0x00000002)) // ST_NO_TRANSITION
	binary.Write(body, binary.LittleEndian, uint16(0x0004))     // wBlobType BB_ERROR_BLOB
	binary.Write(body, binary.LittleEndian, uint16(0))          // wBlobLen

	pdu := new(bytes.Buffer)
	binary.Write(pdu, binary.LittleEndian, uint16(secLicensePkt))
	binary.Write(pdu, binary.LittleEndian, uint16(0))
	pdu.Write(body.Bytes())
	return pdu.Bytes()
}

// --- Capability exchange and finalization ---

// receiveDemandActive reads server PDUs until the Demand Active PDU arrives
// and returns its share ID. Stray licensing or data PDUs on the way are
// skipped.
func receiveDemandActive(r io.Reader) (uint32, error) {
	for attempts := 0; attempts < 8; attempts++ {
		payload, err := readChannelPDU(r)
		if err != nil {
			return 0, err
		}
		if len(payload) < 10 {
			continue
		}
		pduType := binary.LittleEndian.Uint16(payload[2:]) & 0x0F
		if pduType != pduTypeDemandActive {
			continue
		}
		// shareControlHeader(6) then shareID(4)
		return binary.LittleEndian.Uint32(payload[6:]), nil
	}
	return 0, fmt.Errorf("no demand active PDU received")
}

// buildConfirmActivePDU encodes the Confirm Active PDU advertising the
// capability sets derived from the descriptor.
func buildConfirmActivePDU(shareID uint32, userID uint16, size DesktopSize, caps CapabilityDescriptor) []byte {
	capsBuf := new(bytes.Buffer)
	numCaps := 4
	writeGeneralCapabilitySet(capsBuf)
	writeBitmapCapabilitySet(capsBuf, size, caps)
	writeOrderCapabilitySet(capsBuf)
	writePointerCapabilitySet(capsBuf)
	if len(caps.Codecs) > 0 {
		writeBitmapCodecsCapabilitySet(capsBuf, caps.Codecs)
		numCaps++
	}
	capsData := capsBuf.Bytes()

	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, shareID)
	binary.Write(body, binary.LittleEndian, uint16(0x03EA)) // originatorId
	binary.Write(body, binary.LittleEndian, uint16(4))      // lengthSourceDescriptor
	binary.Write(body, binary.LittleEndian, uint16(4+len(capsData)))
	body.WriteString("RDP\x00")
	binary.Write(body, binary.LittleEndian, uint16(numCaps))
	binary.Write(body, binary.LittleEndian, uint16(0)) // pad2octets
	body.Write(capsData)

	pdu := new(bytes.Buffer)
	binary.Write(pdu, binary.LittleEndian, uint16(body.Len()+6))
	binary.Write(pdu, binary.LittleEndian, uint16(pduTypeConfirmActive|0x10))
	binary.Write(pdu, binary.LittleEndian, userID)
	pdu.Write(body.Bytes())
	return pdu.Bytes()
}

func writeGeneralCapabilitySet(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, uint16(capsTypeGeneral))
	binary.Write(buf, binary.LittleEndian, uint16(24))
	binary.Write(buf, binary.LittleEndian, uint16(1))      // osMajorType: Windows
	binary.Write(buf, binary.LittleEndian, uint16(3))      // osMinorType: NT
	binary.Write(buf, binary.LittleEndian, uint16(0x0200)) // protocolVersion
	// extraFlags: LONG_CREDENTIALS | NO_BITMAP_COMPRESSION_HDR | FASTPATH_OUTPUT
	binary.Write(buf, binary.LittleEndian, uint16(0x0004|0x0400|0x0001))
	buf.Write(make([]byte, 12))
}

func writeBitmapCapabilitySet(buf *bytes.Buffer, size DesktopSize, caps CapabilityDescriptor) {
	binary.Write(buf, binary.LittleEndian, uint16(capsTypeBitmap))
	binary.Write(buf, binary.LittleEndian, uint16(28))
	binary.Write(buf, binary.LittleEndian, uint16(caps.ColorDepth)) // preferredBitsPerPixel
	binary.Write(buf, binary.LittleEndian, uint16(1))               // receive1BitPerPixel
	binary.Write(buf, binary.LittleEndian, uint16(1))               // receive4BitsPerPixel
	binary.Write(buf, binary.LittleEndian, uint16(1))               // receive8BitsPerPixel
	binary.Write(buf, binary.LittleEndian, size.Width)
	binary.Write(buf, binary.LittleEndian, size.Height)
	buf.Write(make([]byte, 2)) // pad
	binary.Write(buf, binary.LittleEndian, uint16(1)) // desktopResizeFlag
	binary.Write(buf, binary.LittleEndian, uint16(1)) // bitmapCompressionFlag
	buf.Write(make([]byte, 8))
}

func writeOrderCapabilitySet(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, uint16(capsTypeOrder))
	binary.Write(buf, binary.LittleEndian, uint16(88))
	buf.Write(make([]byte, 30)) // terminalDescriptor through numberFonts
	// orderFlags: NEGOTIATEORDERSUPPORT | ZEROBOUNDSDELTASSUPPORT
	binary.Write(buf, binary.LittleEndian, uint16(0x0002|0x0008))
	buf.Write(make([]byte, 52))
}

func writePointerCapabilitySet(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, uint16(capsTypePointer))
	binary.Write(buf, binary.LittleEndian, uint16(10))
	binary.Write(buf, binary.LittleEndian, uint16(1))  // colorPointerFlag
	binary.Write(buf, binary.LittleEndian, uint16(20)) // colorPointerCacheSize
	binary.Write(buf, binary.LittleEndian, uint16(20)) // pointerCacheSize
}

// codecGUIDRemoteFX is CODEC_GUID_REMOTEFX ([MS-RDPRFX] 2.2.1.1).
var codecGUIDRemoteFX = []byte{
	0x12, 0x2F, 0x77, 0x76, 0x72, 0xBD, 0x63, 0x44,
	0xAF, 0xB3, 0xB7, 0x3C, 0x9C, 0x6F, 0x78, 0x86,
}

// writeBitmapCodecsCapabilitySet encodes TS_BITMAPCODECS_CAPABILITYSET for
// the advertised codec set. Only RemoteFX is known.
func writeBitmapCodecsCapabilitySet(buf *bytes.Buffer, codecs []BitmapCodec) {
	body := new(bytes.Buffer)
	body.WriteByte(byte(len(codecs)))
	for i, codec := range codecs {
		if codec != CodecRemoteFX {
			continue
		}
		props := remoteFXClientCaps()
		body.Write(codecGUIDRemoteFX)
		body.WriteByte(byte(i + 2)) // codecID; 1 is reserved for NSCodec
		binary.Write(body, binary.LittleEndian, uint16(len(props)))
		body.Write(props)
	}

	binary.Write(buf, binary.LittleEndian, uint16(capsTypeBitmapCodecs))
	binary.Write(buf, binary.LittleEndian, uint16(4+body.Len()))
	buf.Write(body.Bytes())
}

// remoteFXClientCaps encodes TS_RFX_CLNT_CAPS_CONTAINER with a single
// RLGR3 image capability ([MS-RDPRFX] 2.2.1.1.1).
func remoteFXClientCaps() []byte {
	icap := new(bytes.Buffer)
	binary.Write(icap, binary.LittleEndian, uint16(0x0100)) // version CLW_VERSION_1_0
	binary.Write(icap, binary.LittleEndian, uint16(0x0040)) // tileSize 64x64
	icap.WriteByte(0x02)                                    // flags CODEC_MODE
	icap.WriteByte(0x01)                                    // colConvBits CLW_COL_CONV_ICT
	icap.WriteByte(0x01)                                    // transformBits CLW_XFORM_DWT_53_A
	icap.WriteByte(0x04)                                    // entropyBits CLW_ENTROPY_RLGR3

	capset := new(bytes.Buffer)
	binary.Write(capset, binary.LittleEndian, uint16(0xCBC1)) // CBY_CAPSET
	binary.Write(capset, binary.LittleEndian, uint32(13+uint32(icap.Len())))
	capset.WriteByte(0x01)                                    // codecId
	binary.Write(capset, binary.LittleEndian, uint16(0xCFC0)) // CLY_CAPSET
	binary.Write(capset, binary.LittleEndian, uint16(1))      // numIcaps
	binary.Write(capset, binary.LittleEndian, uint16(icap.Len()))
	capset.Write(icap.Bytes())

	caps := new(bytes.Buffer)
	binary.Write(caps, binary.LittleEndian, uint16(0xCBC0)) // CBY_CAPS
	binary.Write(caps, binary.LittleEndian, uint32(8))
	binary.Write(caps, binary.LittleEndian, uint16(1)) // numCapsets
	caps.Write(capset.Bytes())

	out := new(bytes.Buffer)
	binary.Write(out, binary.LittleEndian, uint32(12+caps.Len())) // length
	binary.Write(out, binary.LittleEndian, uint32(0x00000001))    // captureFlags CARDP_CAPS_CAPTURE_NON_CAC
	binary.Write(out, binary.LittleEndian, uint32(caps.Len()))    // capsLength
	out.Write(caps.Bytes())
	return out.Bytes()
}

// wrapShareData frames payload as a share data PDU.
func wrapShareData(shareID uint32, userID uint16, pduType2 uint8, payload []byte) []byte {
	pdu := new(bytes.Buffer)
	binary.Write(pdu, binary.LittleEndian, uint16(18+len(payload))) // totalLength
	binary.Write(pdu, binary.LittleEndian, uint16(pduTypeData|0x10))
	binary.Write(pdu, binary.LittleEndian, userID)
	binary.Write(pdu, binary.LittleEndian, shareID)
	pdu.WriteByte(0)                                              // pad1
	pdu.WriteByte(1)                                              // streamId STREAM_LOW
	binary.Write(pdu, binary.LittleEndian, uint16(4+len(payload))) // uncompressedLength
	pdu.WriteByte(pduType2)
	pdu.WriteByte(0)                                   // compressedType
	binary.Write(pdu, binary.LittleEndian, uint16(0)) // compressedLength
	pdu.Write(payload)
	return pdu.Bytes()
}

func buildSynchronizePDU(shareID uint32, userID uint16) []byte {
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, uint16(1)) // SYNCMSGTYPE_SYNC
	binary.Write(payload, binary.LittleEndian, uint16(mcsChannelGlobal))
	return wrapShareData(shareID, userID, pduType2Synchronize, payload.Bytes())
}

func buildControlPDU(shareID uint32, userID uint16, action uint16) []byte {
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, action)
	binary.Write(payload, binary.LittleEndian, uint16(0)) // grantId
	binary.Write(payload, binary.LittleEndian, uint32(0)) // controlId
	return wrapShareData(shareID, userID, pduType2Control, payload.Bytes())
}

func buildFontListPDU(shareID uint32, userID uint16) []byte {
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, uint16(0)) // numberFonts
	binary.Write(payload, binary.LittleEndian, uint16(0)) // totalNumFonts
	binary.Write(payload, binary.LittleEndian, uint16(3)) // listFlags FONTLIST_FIRST|LAST
	binary.Write(payload, binary.LittleEndian, uint16(50)) // entrySize
	return wrapShareData(shareID, userID, pduType2FontList, payload.Bytes())
}
