// Package tlsutil provides the bridge's HTTPS listener config and a client
// transport that accepts self-signed certificates on loopback addresses.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"phobos.org.uk/xbridge/internal/fsutil"
)

// Organization is written into generated certificates.
const Organization = "XAgent Bridge"

const certValidity = 365 * 24 * time.Hour

// ServerConfig loads certFile and keyFile, generating a self-signed pair for
// localhost first when either is missing.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	if !fsutil.Exists(certFile) || !fsutil.Exists(keyFile) {
		if err := GenerateSelfSigned(certFile, keyFile); err != nil {
			return nil, err
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// GenerateSelfSigned writes a P-256 certificate valid for localhost, the
// loopback addresses and this host's name.
func GenerateSelfSigned(certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating private key: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{Organization}, CommonName: hostname},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", hostname},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	return writePEM(keyFile, "EC PRIVATE KEY", keyDER, 0600)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := fsutil.AtomicWrite(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// IsLoopback reports whether host names this machine.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// loopbackTransport skips certificate verification for HTTPS requests to
// loopback hosts and to hosts listed in XBRIDGE_TLS_INSECURE_HOSTS.
type loopbackTransport struct {
	secure   http.RoundTripper
	insecure http.RoundTripper
	hosts    map[string]struct{}
}

func (t *loopbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL != nil && req.URL.Scheme == "https" {
		host := req.URL.Hostname()
		if _, ok := t.hosts[host]; ok || IsLoopback(host) {
			return t.insecure.RoundTrip(req)
		}
	}
	return t.secure.RoundTrip(req)
}

// NewHTTPClient returns a client that verifies TLS except for loopback
// targets, where the bridge's self-signed certificate is expected.
func NewHTTPClient(timeout time.Duration) *http.Client {
	secure := http.DefaultTransport.(*http.Transport).Clone()
	secure.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}

	hosts := map[string]struct{}{}
	for _, host := range strings.Split(os.Getenv("XBRIDGE_TLS_INSECURE_HOSTS"), ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts[host] = struct{}{}
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &loopbackTransport{secure: secure, insecure: insecure, hosts: hosts},
	}
}
