package config

import (
	"os"
	"time"
)

// Server captures HTTP server and protocol level configuration.
type Server struct {
	Addr        string
	BaseURL     string
	IssuerURL   string
	WalletURL   string
	VerifierURL string
	KeysDir     string

	SessionTTL      time.Duration
	CredentialTTL   time.Duration
	PresentationTTL time.Duration
	SweepInterval   time.Duration
}

// Protocol validity windows. Session records (issuance sessions, request
// objects, authorization codes) share the 10 minute window.
var (
	SessionTTL      = 10 * time.Minute
	CredentialTTL   = 365 * 24 * time.Hour // 1 year
	PresentationTTL = time.Hour
	SweepInterval   = 60 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("ATTESTO_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}

	issuerURL := os.Getenv("ISSUER_URL")
	if issuerURL == "" {
		issuerURL = baseURL
	}

	walletURL := os.Getenv("WALLET_URL")
	if walletURL == "" {
		walletURL = "http://localhost:3001"
	}

	verifierURL := os.Getenv("VERIFIER_URL")
	if verifierURL == "" {
		verifierURL = baseURL
	}

	keysDir := os.Getenv("KEYS_DIR")
	if keysDir == "" {
		keysDir = "keys"
	}

	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		if duration, err := time.ParseDuration(ttl); err == nil {
			SessionTTL = duration
		}
	}

	return Server{
		Addr:            addr,
		BaseURL:         baseURL,
		IssuerURL:       issuerURL,
		WalletURL:       walletURL,
		VerifierURL:     verifierURL,
		KeysDir:         keysDir,
		SessionTTL:      SessionTTL,
		CredentialTTL:   CredentialTTL,
		PresentationTTL: PresentationTTL,
		SweepInterval:   SweepInterval,
	}
}
