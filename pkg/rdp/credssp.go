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

// CredSSP / NLA over the upgraded TLS stream ([MS-CSSP]). NTLM messages
// travel inside SPNEGO negotiation tokens ([MS-SPNG], RFC 4178); the
// server's TLS public key is echoed back sealed with the NTLM session key
// to bind the inner authentication to the outer channel.

package rdp

import (
	"bytes"
	"crypto/rc4"
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

const credSSPVersion = 3

type tsRequest struct {
	Version     int         `asn1:"explicit,tag:0"`
	NegoTokens  []negoToken `asn1:"explicit,optional,tag:1"`
	AuthInfo    []byte      `asn1:"explicit,optional,tag:2"`
	PubKeyAuth  []byte      `asn1:"explicit,optional,tag:3"`
	ErrorCode   int         `asn1:"explicit,optional,tag:4"`
	ClientNonce []byte      `asn1:"explicit,optional,tag:5"`
}

type negoToken struct {
	Token []byte `asn1:"explicit,tag:0"`
}

type tsCredentials struct {
	CredType    int    `asn1:"explicit,tag:0"`
	Credentials []byte `asn1:"explicit,tag:1"`
}

type tsPasswordCreds struct {
	DomainName []byte `asn1:"explicit,tag:0"`
	UserName   []byte `asn1:"explicit,tag:1"`
	Password   []byte `asn1:"explicit,tag:2"`
}

// performCredSSP runs the NLA exchange after the TLS upgrade. serverSPKI is
// the DER SubjectPublicKeyInfo of the server certificate; its inner key
// bits are the channel binding material.
func performCredSSP(rw io.ReadWriter, serverSPKI []byte, cfg *ConnectionConfig, log zerolog.Logger) error {
	if cfg.Credentials.IsZero() {
		return fmt.Errorf("server requires NLA but no credentials were supplied")
	}
	publicKey, err := subjectPublicKeyBits(serverSPKI)
	if err != nil {
		return err
	}

	// NTLM negotiate.
	negotiate, err := wrapSPNEGOInit(buildNTLMNegotiate())
	if err != nil {
		return err
	}
	if err := writeTSRequest(rw, tsRequest{
		Version:    credSSPVersion,
		NegoTokens: []negoToken{{Token: negotiate}},
	}); err != nil {
		return err
	}

	// NTLM challenge.
	resp, err := readTSRequest(rw)
	if err != nil {
		return err
	}
	if len(resp.NegoTokens) == 0 {
		return fmt.Errorf("server sent no negotiation token (error code %d)", resp.ErrorCode)
	}
	challengeMsg, err := unwrapSPNEGO(resp.NegoTokens[len(resp.NegoTokens)-1].Token)
	if err != nil {
		return err
	}
	challenge, err := parseNTLMChallenge(challengeMsg)
	if err != nil {
		return err
	}
	log.Debug().Int("target_info_len", len(challenge.TargetInfo)).Msg("NTLM challenge received")

	// NTLM authenticate plus the sealed public key proof.
	authenticate, sessionKey, err := buildNTLMAuthenticate(
		cfg.Domain, cfg.Credentials.Username, cfg.Credentials.Password, challenge)
	if err != nil {
		return err
	}
	authToken, err := wrapSPNEGOResp(authenticate)
	if err != nil {
		return err
	}
	if err := writeTSRequest(rw, tsRequest{
		Version:    credSSPVersion,
		NegoTokens: []negoToken{{Token: authToken}},
		PubKeyAuth: rc4Apply(sessionKey, publicKey),
	}); err != nil {
		return err
	}

	// Server proof: the same key bits with the first byte incremented.
	resp, err = readTSRequest(rw)
	if err != nil {
		return err
	}
	if len(resp.PubKeyAuth) == 0 {
		return fmt.Errorf("server rejected NLA credentials (error code %d)", resp.ErrorCode)
	}
	proof := rc4Apply(sessionKey, resp.PubKeyAuth)
	if len(proof) != len(publicKey) || proof[0] != publicKey[0]+1 || !bytes.Equal(proof[1:], publicKey[1:]) {
		return fmt.Errorf("server public key proof mismatch")
	}

	// Delegate the credentials.
	passwordCreds, err := asn1.Marshal(tsPasswordCreds{
		DomainName: utf16Bytes(cfg.Domain),
		UserName:   utf16Bytes(cfg.Credentials.Username),
		Password:   utf16Bytes(cfg.Credentials.Password),
	})
	if err != nil {
		return err
	}
	creds, err := asn1.Marshal(tsCredentials{CredType: 1, Credentials: passwordCreds})
	if err != nil {
		return err
	}
	if err := writeTSRequest(rw, tsRequest{
		Version:  credSSPVersion,
		AuthInfo: rc4Apply(sessionKey, creds),
	}); err != nil {
		return err
	}

	log.Debug().Msg("CredSSP exchange complete")
	return nil
}

func writeTSRequest(w io.Writer, req tsRequest) error {
	data, err := asn1.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal TSRequest: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write TSRequest: %w", err)
	}
	return nil
}

func readTSRequest(r io.Reader) (*tsRequest, error) {
	buf := make([]byte, 16384)
	n, err := r.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read TSRequest: %w", err)
	}
	var req tsRequest
	if _, err := asn1.Unmarshal(buf[:n], &req); err != nil {
		return nil, fmt.Errorf("unmarshal TSRequest: %w", err)
	}
	return &req, nil
}

// subjectPublicKeyBits extracts the raw key bits from a DER
// SubjectPublicKeyInfo.
func subjectPublicKeyBits(spki []byte) ([]byte, error) {
	var parsed struct {
		Algorithm        asn1.RawValue
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &parsed); err != nil {
		return nil, fmt.Errorf("parse SubjectPublicKeyInfo: %w", err)
	}
	return parsed.SubjectPublicKey.Bytes, nil
}

func rc4Apply(key, data []byte) []byte {
	cipher, _ := rc4.NewCipher(key)
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out
}

// --- SPNEGO framing (RFC 4178) ---

var (
	oidSPNEGO  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
	oidNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}
)

type negTokenInit struct {
	MechTypes []asn1.ObjectIdentifier `asn1:"explicit,tag:0"`
	MechToken []byte                  `asn1:"explicit,optional,tag:2"`
}

type negTokenResp struct {
	NegState      asn1.Enumerated       `asn1:"explicit,optional,tag:0"`
	SupportedMech asn1.ObjectIdentifier `asn1:"explicit,optional,tag:1"`
	ResponseToken []byte                `asn1:"explicit,optional,tag:2"`
	MechListMIC   []byte                `asn1:"explicit,optional,tag:3"`
}

const spnegoReject = 2

// wrapSPNEGOInit wraps the first mechanism token: NegTokenInit inside the
// GSS-API initial context token ([APPLICATION 0] OID + [0] token).
func wrapSPNEGOInit(mechToken []byte) ([]byte, error) {
	init, err := asn1.Marshal(negTokenInit{
		MechTypes: []asn1.ObjectIdentifier{oidNTLMSSP},
		MechToken: mechToken,
	})
	if err != nil {
		return nil, err
	}
	choice := tagWrap(0xA0, init)

	oid, err := asn1.Marshal(oidSPNEGO)
	if err != nil {
		return nil, err
	}
	return tagWrap(0x60, append(oid, choice...)), nil
}

// wrapSPNEGOResp wraps a follow-up token as NegTokenResp ([1] choice, no
// GSS header).
func wrapSPNEGOResp(mechToken []byte) ([]byte, error) {
	resp, err := asn1.Marshal(negTokenResp{ResponseToken: mechToken})
	if err != nil {
		return nil, err
	}
	return tagWrap(0xA1, resp), nil
}

// unwrapSPNEGO extracts the mechanism token from either negotiation token
// form, stripping a GSS-API header when present.
func unwrapSPNEGO(data []byte) ([]byte, error) {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode SPNEGO token: %w", err)
	}

	if raw.Class == asn1.ClassApplication && raw.Tag == 0 {
		// Initial context token: OID then the negotiation token.
		var oid asn1.ObjectIdentifier
		rest, err := asn1.Unmarshal(raw.Bytes, &oid)
		if err != nil {
			return nil, fmt.Errorf("decode GSS-API mech OID: %w", err)
		}
		return unwrapSPNEGO(rest)
	}
	if raw.Class != asn1.ClassContextSpecific {
		return nil, fmt.Errorf("unexpected SPNEGO tag class %d", raw.Class)
	}

	switch raw.Tag {
	case 0:
		var init negTokenInit
		if _, err := asn1.Unmarshal(raw.Bytes, &init); err != nil {
			return nil, fmt.Errorf("decode NegTokenInit: %w", err)
		}
		return init.MechToken, nil
	case 1:
		var resp negTokenResp
		if _, err := asn1.Unmarshal(raw.Bytes, &resp); err != nil {
			return nil, fmt.Errorf("decode NegTokenResp: %w", err)
		}
		if resp.NegState == spnegoReject {
			return nil, fmt.Errorf("SPNEGO negotiation rejected by server")
		}
		return resp.ResponseToken, nil
	default:
		return nil, fmt.Errorf("unknown SPNEGO choice tag %d", raw.Tag)
	}
}

// tagWrap prefixes content with a raw tag byte and a DER definite length.
func tagWrap(tag byte, content []byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(tag)
	berEncodeLength(buf, len(content))
	buf.Write(content)
	return buf.Bytes()
}
