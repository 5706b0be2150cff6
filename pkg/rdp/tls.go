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
	"net"

	ztls "github.com/zmap/zcrypto/tls"
)

// upgradeTLS upgrades the raw TCP connection to TLS with SNI set to the
// target hostname and returns the TLS connection together with the server's
// public key (SubjectPublicKeyInfo DER) extracted from the leaf certificate.
// The key is needed later for the credential exchange binding.
//
// Certificate verification is disabled: RDP servers almost always present
// self-signed certificates.
func upgradeTLS(conn net.Conn, serverName string) (*ztls.Conn, []byte, error) {
	config := &ztls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
		MinVersion:         ztls.VersionTLS10,
		MaxVersion:         ztls.VersionTLS12,
		CipherSuites: []uint16{
			// Cipher suites RDP servers commonly offer, old CBC
			// modes included.
			ztls.TLS_RSA_WITH_AES_128_CBC_SHA,
			ztls.TLS_RSA_WITH_AES_256_CBC_SHA,
			ztls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			ztls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			ztls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			ztls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			ztls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			ztls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}

	tlsConn := ztls.Client(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, nil, fmt.Errorf("server presented no certificate")
	}
	publicKey := state.PeerCertificates[0].RawSubjectPublicKeyInfo

	return tlsConn, publicKey, nil
}

// tlsVersionString renders a TLS version constant for log events.
func tlsVersionString(version uint16) string {
	switch version {
	case ztls.VersionSSL30:
		return "SSL 3.0"
	case ztls.VersionTLS10:
		return "TLS 1.0"
	case ztls.VersionTLS11:
		return "TLS 1.1"
	case ztls.VersionTLS12:
		return "TLS 1.2"
	default:
		return fmt.Sprintf("unknown (0x%04x)", version)
	}
}
