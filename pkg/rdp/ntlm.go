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

// NTLMSSP message construction for the CredSSP exchange ([MS-NLMP]).
// Only NTLMv2 with extended session security is produced; the legacy LM
// response stays empty.

package rdp

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/md4"
)

const ntlmSignature = "NTLMSSP\x00"

// Negotiate flags: Unicode, NTLM, request target, always sign, extended
// session security, version, 128-bit, key exchange, 56-bit.
const ntlmNegotiateFlags = 0xE208B207

// ntlmVersion is a 6.1.7601 version block; old enough that every server
// accepts it.
var ntlmVersion = []byte{0x06, 0x01, 0xB1, 0x1D, 0x00, 0x00, 0x00, 0x0F}

// buildNTLMNegotiate encodes the NEGOTIATE_MESSAGE. Domain and workstation
// fields stay empty; the server learns both from the AUTHENTICATE_MESSAGE.
func buildNTLMNegotiate() []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(ntlmSignature)
	binary.Write(buf, binary.LittleEndian, uint32(1))
	binary.Write(buf, binary.LittleEndian, uint32(ntlmNegotiateFlags))
	buf.Write(make([]byte, 16)) // empty domain and workstation fields
	buf.Write(ntlmVersion)
	return buf.Bytes()
}

type ntlmChallenge struct {
	ServerChallenge []byte
	TargetInfo      []byte
	NegotiateFlags  uint32
}

// parseNTLMChallenge decodes the CHALLENGE_MESSAGE.
func parseNTLMChallenge(data []byte) (*ntlmChallenge, error) {
	if len(data) < 48 {
		return nil, fmt.Errorf("NTLM challenge too short: %d bytes", len(data))
	}
	if string(data[:8]) != ntlmSignature {
		return nil, fmt.Errorf("invalid NTLM signature")
	}
	if msgType := binary.LittleEndian.Uint32(data[8:]); msgType != 2 {
		return nil, fmt.Errorf("expected NTLM challenge, got message type %d", msgType)
	}

	ch := &ntlmChallenge{
		NegotiateFlags:  binary.LittleEndian.Uint32(data[20:]),
		ServerChallenge: append([]byte(nil), data[24:32]...),
	}
	infoLen := int(binary.LittleEndian.Uint16(data[40:]))
	infoOffset := int(binary.LittleEndian.Uint32(data[44:]))
	if infoLen > 0 && infoOffset+infoLen <= len(data) {
		ch.TargetInfo = append([]byte(nil), data[infoOffset:infoOffset+infoLen]...)
	}
	return ch, nil
}

// ntlmV2Hash derives the NTLMv2 key: HMAC-MD5 over the uppercased username
// concatenated with the domain, keyed with MD4 of the UTF-16 password.
func ntlmV2Hash(domain, username, password string) []byte {
	h := md4.New()
	h.Write(utf16Bytes(password))
	ntHash := h.Sum(nil)

	mac := hmac.New(md5.New, ntHash)
	mac.Write(utf16Bytes(strings.ToUpper(username) + domain))
	return mac.Sum(nil)
}

// buildNTLMAuthenticate encodes the AUTHENTICATE_MESSAGE with an NTLMv2
// response and returns it together with the exported session key used to
// seal the CredSSP public key proof.
func buildNTLMAuthenticate(domain, username, password string, ch *ntlmChallenge) ([]byte, []byte, error) {
	v2Hash := ntlmV2Hash(domain, username, password)

	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, nil, fmt.Errorf("client challenge: %w", err)
	}

	// Windows FILETIME: 100ns ticks since 1601-01-01.
	fileTime := uint64(time.Now().UnixNano()/100) + 116444736000000000

	blob := new(bytes.Buffer)
	binary.Write(blob, binary.LittleEndian, uint32(0x01010000))
	binary.Write(blob, binary.LittleEndian, uint32(0))
	binary.Write(blob, binary.LittleEndian, fileTime)
	blob.Write(clientChallenge)
	binary.Write(blob, binary.LittleEndian, uint32(0))
	blob.Write(ch.TargetInfo)
	binary.Write(blob, binary.LittleEndian, uint32(0))

	mac := hmac.New(md5.New, v2Hash)
	mac.Write(ch.ServerChallenge)
	mac.Write(blob.Bytes())
	ntProof := mac.Sum(nil)

	ntResponse := append(ntProof, blob.Bytes()...)

	mac = hmac.New(md5.New, v2Hash)
	mac.Write(ntProof)
	sessionBaseKey := mac.Sum(nil)

	// Key exchange: a fresh session key sealed with the base key.
	sessionKey := make([]byte, 16)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, nil, fmt.Errorf("session key: %w", err)
	}
	sealedKey := rc4Apply(sessionBaseKey, sessionKey)

	domainField := utf16Bytes(domain)
	userField := utf16Bytes(username)
	hostField := utf16Bytes("RUSTCONN")

	// Payload order: domain, user, workstation, session key, NT response.
	// Header is 64 bytes plus the 8-byte version block.
	offsetDomain := 72
	offsetUser := offsetDomain + len(domainField)
	offsetHost := offsetUser + len(userField)
	offsetKey := offsetHost + len(hostField)
	offsetNT := offsetKey + len(sealedKey)

	writeField := func(buf *bytes.Buffer, length, offset int) {
		binary.Write(buf, binary.LittleEndian, uint16(length))
		binary.Write(buf, binary.LittleEndian, uint16(length))
		binary.Write(buf, binary.LittleEndian, uint32(offset))
	}

	buf := new(bytes.Buffer)
	buf.WriteString(ntlmSignature)
	binary.Write(buf, binary.LittleEndian, uint32(3))
	writeField(buf, 0, 0) // LM response stays empty
	writeField(buf, len(ntResponse), offsetNT)
	writeField(buf, len(domainField), offsetDomain)
	writeField(buf, len(userField), offsetUser)
	writeField(buf, len(hostField), offsetHost)
	writeField(buf, len(sealedKey), offsetKey)
	binary.Write(buf, binary.LittleEndian, uint32(ntlmNegotiateFlags))
	buf.Write(ntlmVersion)
	buf.Write(domainField)
	buf.Write(userField)
	buf.Write(hostField)
	buf.Write(sealedKey)
	buf.Write(ntResponse)

	return buf.Bytes(), sessionKey, nil
}
