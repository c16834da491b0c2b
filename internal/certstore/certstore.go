// Package certstore generates and persists the self-signed TLS credential
// the Chat Interceptor presents to the game client.
package certstore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	commonName = "League Deceiver CA"
	certBits   = 2048
	validFor   = 10 * 365 * 24 * time.Hour
)

// Credential is a leaf certificate and its private key, ready to be used
// in a tls.Config.
type Credential struct {
	CertPEM []byte
	KeyPEM  []byte
}

// TLSCertificate parses the credential into a tls.Certificate suitable for
// tls.Config.Certificates.
func (c *Credential) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(c.CertPEM, c.KeyPEM)
}

func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// Generate produces a fresh self-signed leaf certificate matching the
// external interface documented for the Chat Interceptor's listener:
// CN "League Deceiver CA", SANs localhost/127.0.0.1, 10-year validity,
// RSA 2048, basic constraints cA=true.
func Generate() (*Credential, error) {
	priv, err := rsa.GenerateKey(rand.Reader, certBits)
	if err != nil {
		return nil, fmt.Errorf("certstore: generate key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, fmt.Errorf("certstore: serial number: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("certstore: create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return &Credential{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// Provider loads a persisted credential from disk, generating and saving a
// new one on first run. The pair lives next to the persisted config file so
// relaunches reuse the same leaf certificate.
type Provider struct {
	dir string
	log *zap.Logger
}

func NewProvider(dir string, log *zap.Logger) *Provider {
	return &Provider{dir: dir, log: log}
}

func (p *Provider) certPath() string { return filepath.Join(p.dir, "cert.pem") }
func (p *Provider) keyPath() string  { return filepath.Join(p.dir, "key.pem") }

// Load returns the persisted credential, generating one if none exists yet.
func (p *Provider) Load(ctx context.Context) (*Credential, error) {
	certPEM, certErr := os.ReadFile(p.certPath())
	keyPEM, keyErr := os.ReadFile(p.keyPath())
	if certErr == nil && keyErr == nil {
		p.log.Debug("loaded persisted certificate", zap.String("path", p.certPath()))
		return &Credential{CertPEM: certPEM, KeyPEM: keyPEM}, nil
	}

	p.log.Info("generating new self-signed certificate", zap.String("cn", commonName))
	cred, err := Generate()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return nil, fmt.Errorf("certstore: create config dir: %w", err)
	}
	if err := os.WriteFile(p.certPath(), cred.CertPEM, 0o644); err != nil {
		return nil, fmt.Errorf("certstore: write cert: %w", err)
	}
	if err := os.WriteFile(p.keyPath(), cred.KeyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("certstore: write key: %w", err)
	}

	return cred, nil
}
