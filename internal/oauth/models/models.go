// Package models defines the records backing the classic OAuth2
// authorization-code grant. These are independent of the pre-authorized
// code path, which lives on the issuance session itself.
package models

import "time"

// CodeTTL bounds how long an authorization code may be redeemed.
const CodeTTL = 10 * time.Minute

// AuthorizationCode is a one-time code handed out by the authorization
// endpoint. It is deleted on redemption, together with the state record it
// was minted under.
type AuthorizationCode struct {
	Code      string
	ClientID  string
	State     string
	Scope     string
	Nonce     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code's validity window has passed.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// AuthorizationState records the parameters of an authorization request,
// keyed by the client-supplied state value.
type AuthorizationState struct {
	State               string
	ClientID            string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the state record's validity window has passed.
func (s *AuthorizationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
