// Package keys owns the asymmetric signing key material for the service.
// Two independent keypairs exist: an RSA-2048 key for credential and
// presentation signing (RS256) and an EC P-256 key for presentation request
// signing (ES256). Private keys never leave this package; only public JWK
// form is exported.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
)

// Key IDs are stable across restarts so issued JWTs remain verifiable
// against the published JWKS.
const (
	CredentialKeyID = "rsa-key-1"
	RequestKeyID    = "ec-key-1"
)

const (
	rsaPrivateFile = "rsa-private.pem"
	rsaPublicFile  = "rsa-public.pem"
	ecPrivateFile  = "ec-private.pem"
	ecPublicFile   = "ec-public.pem"
)

// JWK is a public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKSet is the JWKS document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// Manager loads or generates the service keypairs and keeps them in memory.
type Manager struct {
	dir    string
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
	logger *slog.Logger
}

// NewManager loads persisted keys from dir, generating and persisting fresh
// ones on first run. A failure here is fatal for the caller: the service
// cannot operate without signing keys.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keys dir: %w", err)
	}

	m := &Manager{dir: dir, logger: logger}

	rsaKey, err := m.loadOrGenerateRSA()
	if err != nil {
		return nil, fmt.Errorf("rsa key material: %w", err)
	}
	m.rsaKey = rsaKey

	ecKey, err := m.loadOrGenerateEC()
	if err != nil {
		return nil, fmt.Errorf("ec key material: %w", err)
	}
	m.ecKey = ecKey

	return m, nil
}

// CredentialSigningKey returns the RSA private key used for credential and
// presentation JWTs (RS256).
func (m *Manager) CredentialSigningKey() *rsa.PrivateKey {
	return m.rsaKey
}

// CredentialVerificationKey returns the RSA public key matching the
// credential signing key.
func (m *Manager) CredentialVerificationKey() *rsa.PublicKey {
	return &m.rsaKey.PublicKey
}

// RequestSigningKey returns the EC private key used for signed presentation
// request objects (ES256).
func (m *Manager) RequestSigningKey() *ecdsa.PrivateKey {
	return m.ecKey
}

// RequestVerificationKey returns the EC public key matching the request
// signing key.
func (m *Manager) RequestVerificationKey() *ecdsa.PublicKey {
	return &m.ecKey.PublicKey
}

// Ready reports whether both keypairs are loaded. Used by the readiness probe.
func (m *Manager) Ready() error {
	if m.rsaKey == nil || m.ecKey == nil {
		return fmt.Errorf("key material not loaded")
	}
	return nil
}

// JWKS exports both public keys in JWK form.
func (m *Manager) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{m.ecPublicJWK(), m.rsaPublicJWK()}}
}

func (m *Manager) rsaPublicJWK() JWK {
	pub := &m.rsaKey.PublicKey
	return JWK{
		Kty: "RSA",
		Kid: CredentialKeyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func (m *Manager) ecPublicJWK() JWK {
	pub := &m.ecKey.PublicKey
	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	return JWK{
		Kty: "EC",
		Kid: RequestKeyID,
		Use: "enc",
		Alg: "ECDH-ES",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, byteLen))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, byteLen))),
	}
}

func (m *Manager) loadOrGenerateRSA() (*rsa.PrivateKey, error) {
	privPath := filepath.Join(m.dir, rsaPrivateFile)
	if keyPEM, err := os.ReadFile(privPath); err == nil {
		key, err := parsePrivateKey[*rsa.PrivateKey](keyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rsaPrivateFile, err)
		}
		m.logger.Info("loaded RSA keypair from disk", "path", privPath)
		return key, nil
	}

	m.logger.Info("generating RSA-2048 keypair")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	if err := m.persist(key, &key.PublicKey, rsaPrivateFile, rsaPublicFile); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) loadOrGenerateEC() (*ecdsa.PrivateKey, error) {
	privPath := filepath.Join(m.dir, ecPrivateFile)
	if keyPEM, err := os.ReadFile(privPath); err == nil {
		key, err := parsePrivateKey[*ecdsa.PrivateKey](keyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ecPrivateFile, err)
		}
		m.logger.Info("loaded EC keypair from disk", "path", privPath)
		return key, nil
	}

	m.logger.Info("generating EC P-256 keypair")
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ec key: %w", err)
	}
	if err := m.persist(key, &key.PublicKey, ecPrivateFile, ecPublicFile); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) persist(priv any, pub any, privFile, pubFile string) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(filepath.Join(m.dir, privFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", privFile, err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, pubFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", pubFile, err)
	}
	return nil
}

func parsePrivateKey[T any](keyPEM []byte) (T, error) {
	var zero T
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return zero, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return zero, err
	}
	key, ok := parsed.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected key type %T", parsed)
	}
	return key, nil
}
