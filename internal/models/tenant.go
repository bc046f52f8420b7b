package models

import "time"

type TenantPlan string

const (
	PlanFree       TenantPlan = "free"
	PlanPro        TenantPlan = "pro"
	PlanEnterprise TenantPlan = "enterprise"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

type Tenant struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Slug      string         `json:"slug" db:"slug"`
	Plan      TenantPlan     `json:"plan" db:"plan"`
	Status    TenantStatus   `json:"status" db:"status"`
	OwnerID   string         `json:"owner_id,omitempty" db:"owner_id"`
	Settings  map[string]any `json:"settings,omitempty" db:"settings"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantActive
}
