package domain

import "time"

// DefaultTokenTTL is how long an issued token stays valid unless the caller asks otherwise.
const DefaultTokenTTL = 72 * time.Hour

// MaxTokenTTL caps the lifetime a caller may request.
const MaxTokenTTL = 365 * Day

// Purpose is the single use a token may be spent on.
type Purpose string

const (
	PurposeSubscriptionManagement   Purpose = "subscription_management"
	PurposeSubscriptionCancellation Purpose = "subscription_cancellation"
)

// Valid reports whether p is a purpose tokens can be issued for.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeSubscriptionManagement, PurposeSubscriptionCancellation:
		return true
	}
	return false
}

// Token is a single-use, time-boxed capability grant. Value is both the secret and
// the lookup key.
type Token struct {
	Value     string
	TenantID  string
	SubjectID string
	Purpose   Purpose
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	UsedBy    string
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Grant is what a consumed token authorizes.
type Grant struct {
	TenantID  string
	SubjectID string
	Purpose   Purpose
}

// Grant returns the authorization carried by the token.
func (t Token) Grant() Grant {
	return Grant{TenantID: t.TenantID, SubjectID: t.SubjectID, Purpose: t.Purpose}
}
