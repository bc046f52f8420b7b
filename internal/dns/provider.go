// Package dns automates custom-domain onboarding against a DNS provider and
// drives domains through their verification states.
package dns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const recordTTL = 300

type Record struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
	Proxied  bool   `json:"proxied"`
}

type SetupRecords struct {
	VerificationRecord Record
	RoutingRecord      Record
}

// Check is the provider's view of a domain's published records.
type Check struct {
	VerificationValid bool `json:"verification_valid"`
	RoutingValid      bool `json:"routing_valid"`
	SSLEnabled        bool `json:"ssl_enabled"`
}

type Certificate struct {
	Status               models.SSLStatus `json:"status"`
	CertificateAuthority string           `json:"certificate_authority,omitempty"`
	ExpiresOn            string           `json:"expires_on,omitempty"`
}

type Provider interface {
	CreateVerificationRecord(ctx context.Context, domain, token string) (Record, error)
	CreateCNAMERecord(ctx context.Context, domain, target string) (Record, error)
	CreateARecord(ctx context.Context, domain, ip string) (Record, error)
	SetupCustomDomain(ctx context.Context, domain, token string) (SetupRecords, error)
	RemoveCustomDomain(ctx context.Context, domain string) error
	VerifyDNSConfiguration(ctx context.Context, domain, token string) (Check, error)
}

// SSLStatusChecker is implemented by providers that can report certificate
// state.
type SSLStatusChecker interface {
	GetSSLStatus(ctx context.Context, domain string) (Certificate, error)
}

// NewProvider builds the configured provider. A provider missing its
// credentials yields a configuration error; callers treat that as DNS
// management being unavailable.
func NewProvider(cfg config.DNSConfig, targets domain.Targets, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "cloudflare":
		if cfg.CloudflareToken == "" || cfg.CloudflareZoneID == "" {
			return nil, apperrors.Configuration("cloudflare DNS management not configured (missing API token or zone id)")
		}
		return NewCloudflare(CloudflareConfig{
			APIURL:  cfg.CloudflareAPIURL,
			Token:   cfg.CloudflareToken,
			ZoneID:  cfg.CloudflareZoneID,
			Targets: targets,
		}, logger), nil
	default:
		return nil, apperrors.Unsupported(fmt.Sprintf("DNS provider %q not supported", cfg.Provider))
	}
}
