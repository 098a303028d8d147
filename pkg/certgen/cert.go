// Package certgen creates the self-signed certificate used by the wsproxy
// TLS listener.
//
// Typical usage:
//
//	if err := certgen.GenerateCert("cert.pem", "key.pem"); err != nil {
//	    log.Fatalf("Failed to generate cert: %v", err)
//	}
package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// Validity is the lifetime of generated certificates.
const Validity = 365 * 24 * time.Hour

// GenerateCert writes a self-signed certificate and its 2048-bit RSA key to
// certFile and keyFile in PEM format. Existing files are left untouched
// when both are present.
//
// The certificate is valid for localhost and 127.0.0.1 plus any extra
// hosts given; entries that parse as IPs become IP SANs, the rest DNS
// names. Wildcard bind addresses such as 0.0.0.0 are skipped. The key file
// is written with mode 0600.
func GenerateCert(certFile, keyFile string, hosts ...string) error {
	if fileExists(certFile) && fileExists(keyFile) {
		return nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"wsproxy"}, CommonName: "wsproxy"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			if !ip.IsUnspecified() {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			}
		} else if h != "" {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	if err := writePemToFile(certFile, "CERTIFICATE", derBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	keyBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err := writePemToFile(keyFile, "RSA PRIVATE KEY", keyBytes, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// writePemToFile writes a single PEM block to filename, replacing any
// previous content.
func writePemToFile(filename, pemType string, bytes []byte, mode os.FileMode) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: pemType, Bytes: bytes}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
