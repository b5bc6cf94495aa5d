// Package gpcquictest has helpers for running [gpcquic.Endpoint] values in tests.
package gpcquictest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/gordian-engine/gpc/gpcquic"
	"github.com/stretchr/testify/require"
)

// TLSConfigs returns n mutual TLS configs whose leaf certificates
// are all signed by one freshly generated CA
// and are valid for [gpcquic.DefaultServerName].
func TLSConfigs(t *testing.T, n int) []*tls.Config {
	t.Helper()

	caPub, caPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber: randomSerial(t),
		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA Root",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(nil, caTemplate, caTemplate, caPub, caPriv)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	out := make([]*tls.Config, n)
	for i := range out {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		template := &x509.Certificate{
			SerialNumber: randomSerial(t),
			Subject: pkix.Name{
				Organization: []string{"Test Leaf Cert"},
			},
			NotBefore: time.Now().Add(-15 * time.Second),
			NotAfter:  time.Now().Add(time.Hour),

			KeyUsage: x509.KeyUsageDigitalSignature,
			ExtKeyUsage: []x509.ExtKeyUsage{
				x509.ExtKeyUsageServerAuth,
				x509.ExtKeyUsageClientAuth,
			},
			DNSNames: []string{gpcquic.DefaultServerName},
		}
		der, err := x509.CreateCertificate(nil, template, caCert, pub, caPriv)
		require.NoError(t, err)
		leaf, err := x509.ParseCertificate(der)
		require.NoError(t, err)

		out[i] = &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{leaf.Raw},
				PrivateKey:  priv,
				Leaf:        leaf,
			}},
			RootCAs:    pool,
			ClientCAs:  pool,
			ClientAuth: tls.RequireAndVerifyClientCert,
		}
	}

	return out
}

// ListenUDP returns a UDP socket on a random loopback port.
// The socket is closed during test cleanup if still open.
func ListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()

	uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = uc.Close() })
	return uc
}

func randomSerial(t *testing.T) *big.Int {
	t.Helper()

	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := rand.Int(rand.Reader, limit)
	require.NoError(t, err)
	return n
}
