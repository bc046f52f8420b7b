package models

import "time"

type DomainType string

const (
	DomainSubdomain DomainType = "subdomain"
	DomainCustom    DomainType = "custom"
)

type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainVerified DomainStatus = "verified"
	DomainFailed   DomainStatus = "failed"
	DomainExpired  DomainStatus = "expired"
)

type SSLStatus string

const (
	SSLPending SSLStatus = "pending"
	SSLActive  SSLStatus = "active"
	SSLFailed  SSLStatus = "failed"
	SSLExpired SSLStatus = "expired"
)

type VerificationMethod string

const (
	VerifyDNS   VerificationMethod = "dns"
	VerifyFile  VerificationMethod = "file"
	VerifyCNAME VerificationMethod = "cname"
)

type Domain struct {
	ID                 string             `json:"id" db:"id"`
	TenantID           string             `json:"tenant_id" db:"tenant_id"`
	Domain             string             `json:"domain" db:"domain"`
	Type               DomainType         `json:"type" db:"type"`
	Status             DomainStatus       `json:"status" db:"status"`
	VerificationToken  string             `json:"verification_token,omitempty" db:"verification_token"`
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	SSLEnabled         bool               `json:"ssl_enabled" db:"ssl_enabled"`
	SSLStatus          SSLStatus          `json:"ssl_status" db:"ssl_status"`
	Settings           map[string]any     `json:"settings,omitempty" db:"settings"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty" db:"verified_at"`
}

// DNSRecords holds provider record ids written by DNS setup.
type DNSRecords struct {
	VerificationRecordID string `json:"verification_record_id"`
	RoutingRecordID      string `json:"routing_record_id"`
}

// ManagedRecords reads settings.dns_records, if present.
func (d *Domain) ManagedRecords() (DNSRecords, bool) {
	raw, ok := d.Settings["dns_records"].(map[string]any)
	if !ok {
		return DNSRecords{}, false
	}
	var r DNSRecords
	r.VerificationRecordID, _ = raw["verification_record_id"].(string)
	r.RoutingRecordID, _ = raw["routing_record_id"].(string)
	return r, r.VerificationRecordID != "" || r.RoutingRecordID != ""
}

// DomainVerification is one DNS record the domain owner has to publish.
type DomainVerification struct {
	Domain   string `json:"domain"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Priority *int   `json:"priority,omitempty"`
}
