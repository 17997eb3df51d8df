// Package models holds the issuance session domain types.
package models

import "time"

// Status tracks an issuance session through its lifecycle. Sessions move
// pending -> completed exactly once; expiry removes them instead of a
// terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// GrantTypePreAuthorizedCode is the OpenID4VCI pre-authorized code grant URN.
const GrantTypePreAuthorizedCode = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

// CredentialOffer is the offer document served to wallets.
type CredentialOffer struct {
	CredentialIssuer           string   `json:"credential_issuer"`
	CredentialConfigurationIDs []string `json:"credential_configuration_ids"`
	Grants                     Grants   `json:"grants"`
}

// Grants lists the grant types a credential offer supports.
type Grants struct {
	PreAuthorizedCode *PreAuthorizedCodeGrant `json:"urn:ietf:params:oauth:grant-type:pre-authorized_code,omitempty"`
}

// PreAuthorizedCodeGrant carries the bearer code for PIN-less issuance.
type PreAuthorizedCodeGrant struct {
	PreAuthorizedCode string `json:"pre-authorized_code"`
}

// Session is one ephemeral issuance flow. The user PIN is stored only as a
// bcrypt hash; the plaintext is returned once at initiation.
type Session struct {
	ID                string
	PreAuthorizedCode string
	UserPINHash       string
	CredentialType    string
	CredentialData    map[string]any
	CredentialOffer   *CredentialOffer
	WalletURL         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	Status            Status
	Credential        string
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
