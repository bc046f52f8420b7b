package models

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleUser   Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID           string         `json:"id" db:"id"`
	TenantID     string         `json:"tenant_id,omitempty" db:"tenant_id"`
	Email        string         `json:"email" db:"email"`
	Name         string         `json:"name,omitempty" db:"name"`
	Role         Role           `json:"role" db:"role"`
	Status       string         `json:"status" db:"status"`
	PasswordHash string         `json:"-" db:"password_hash"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

type Session struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type Subscription struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	Plan                 TenantPlan `json:"plan" db:"plan"`
	Status               string     `json:"status" db:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty" db:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
}

type APIKey struct {
	ID         string     `json:"id" db:"id"`
	TenantID   string     `json:"tenant_id" db:"tenant_id"`
	UserID     string     `json:"user_id,omitempty" db:"user_id"`
	KeyHash    string     `json:"key_hash,omitempty" db:"key_hash"`
	Name       string     `json:"name" db:"name"`
	Role       Role       `json:"role" db:"role"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Invitation lets an owner or admin bring a user into their tenant. Only the
// token hash is stored; the plain token is shown once at creation.
type Invitation struct {
	ID         string     `json:"id" db:"id"`
	TenantID   string     `json:"tenant_id" db:"tenant_id"`
	Email      string     `json:"email" db:"email"`
	Role       Role       `json:"role" db:"role"`
	TokenHash  string     `json:"token_hash,omitempty" db:"token_hash"`
	InvitedBy  string     `json:"invited_by,omitempty" db:"invited_by"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
