// Package models holds the verifier-side domain types: stored request
// objects, verification sessions, and verification response records.
package models

import (
	"time"

	"attesto/internal/credential"
)

// Status tracks a verification session. Completed and failed are both
// terminal; a session is written to at most once after creation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RequestRecord is a stored presentation request object awaiting wallet
// retrieval, with its own 10 minute window.
type RequestRecord struct {
	Request   credential.RequestObject
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record's validity window has passed.
func (r *RequestRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ResponseRecord is a successful presentation verification kept for one hour
// so callers can re-read the outcome.
type ResponseRecord struct {
	ID           string
	Status       string
	Verified     bool
	Presentation *credential.PresentationData
	Credentials  []credential.CredentialSummary
	RedirectURI  string
	Timestamp    time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the record's validity window has passed.
func (r *ResponseRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Session is one QR-driven verification flow. The embedded presentation
// request carries the state the callback matches on.
type Session struct {
	ID                     string
	CredentialType         string
	PresentationRequest    credential.RequestObject
	WalletURL              string
	Nonce                  string
	CreatedAt              time.Time
	ExpiresAt              time.Time
	CompletedAt            *time.Time
	Status                 Status
	VPToken                string
	PresentationSubmission any
	VerificationResult     *credential.VerifyResult
	Error                  string
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
