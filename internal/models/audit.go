package models

import "time"

type AuditLog struct {
	ID           string         `json:"id" db:"id"`
	TenantID     string         `json:"tenant_id" db:"tenant_id"`
	UserID       string         `json:"user_id,omitempty" db:"user_id"`
	Action       string         `json:"action" db:"action"`
	ResourceType string         `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty" db:"resource_id"`
	Details      map[string]any `json:"details,omitempty" db:"details"`
	IPAddress    string         `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

type Webhook struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	URL       string    `json:"url" db:"url"`
	Events    []string  `json:"events" db:"events"`
	Secret    string    `json:"secret,omitempty" db:"secret"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type WebhookDelivery struct {
	ID             string         `json:"id" db:"id"`
	TenantID       string         `json:"tenant_id" db:"tenant_id"`
	WebhookID      string         `json:"webhook_id" db:"webhook_id"`
	Event          string         `json:"event" db:"event"`
	Payload        map[string]any `json:"payload" db:"payload"`
	ResponseStatus int            `json:"response_status" db:"response_status"`
	Attempts       int            `json:"attempts" db:"attempts"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}
