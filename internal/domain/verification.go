package domain

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const (
	VerificationPrefix  = "_saas-verify."
	DefaultCNAMETarget  = "cname.yoursaas.com"
	DefaultARecordValue = "192.168.1.1"
)

// Resolver is the subset of *net.Resolver used for verification.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Targets are the routing values customers point their domains at.
type Targets struct {
	CNAME string
	A     string
}

type Verifier struct {
	resolver Resolver
	targets  Targets
	http     *resty.Client
	logger   *slog.Logger
}

func NewVerifier(resolver Resolver, targets Targets, logger *slog.Logger) *Verifier {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		resolver: resolver,
		targets:  targets,
		http:     resty.New().SetTimeout(5 * time.Second).SetRedirectPolicy(stopAtFirstResponse),
		logger:   logger,
	}
}

// GenerateDomainVerification lists the TXT ownership record plus both
// routing options. Unset targets fall back to the platform defaults.
func GenerateDomainVerification(domain, token string, targets Targets) []models.DomainVerification {
	cname := targets.CNAME
	if cname == "" {
		cname = DefaultCNAMETarget
	}
	a := targets.A
	if a == "" {
		a = DefaultARecordValue
	}
	return []models.DomainVerification{
		{Domain: domain, Type: "TXT", Name: VerificationPrefix + domain, Value: token},
		{Domain: domain, Type: "CNAME", Name: domain, Value: cname},
		{Domain: domain, Type: "A", Name: domain, Value: a},
	}
}

func (v *Verifier) Records(domain, token string) []models.DomainVerification {
	return GenerateDomainVerification(domain, token, v.targets)
}

// VerifyDomainOwnership reports whether _saas-verify.<domain> carries token.
// Lookup failures count as not verified.
func (v *Verifier) VerifyDomainOwnership(ctx context.Context, domain, token string) bool {
	if token == "" {
		return false
	}
	records, err := v.resolver.LookupTXT(ctx, VerificationPrefix+domain)
	if err != nil {
		v.logger.Warn("txt lookup failed", "domain", domain, "error", err)
		return false
	}
	for _, r := range records {
		if r == token {
			return true
		}
	}
	return false
}

// CheckDomainPointing accepts either a CNAME to the configured target or an A
// record with the configured address.
func (v *Verifier) CheckDomainPointing(ctx context.Context, domain string) bool {
	if v.targets.CNAME != "" {
		cname, err := v.resolver.LookupCNAME(ctx, domain)
		if err == nil && sameHost(cname, v.targets.CNAME) {
			return true
		}
	}

	if v.targets.A == "" {
		return false
	}
	addrs, err := v.resolver.LookupHost(ctx, domain)
	if err != nil {
		v.logger.Warn("address lookup failed", "domain", domain, "error", err)
		return false
	}
	for _, a := range addrs {
		if a == v.targets.A {
			return true
		}
	}
	return false
}

// stopAtFirstResponse keeps the check on the requested host: a redirect is
// returned as the response rather than followed.
var stopAtFirstResponse = resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
})

// CheckSSLCertificate issues a HEAD over https. A completed TLS handshake is
// what proves the certificate, so any HTTP answer counts, redirects and 405
// included. Only 5xx, which a terminating proxy returns when it has no
// upstream for the host, is treated as not serving.
func (v *Verifier) CheckSSLCertificate(ctx context.Context, domain string) bool {
	resp, err := v.http.R().SetContext(ctx).Head("https://" + domain)
	if err != nil {
		v.logger.Warn("ssl check failed", "domain", domain, "error", err)
		return false
	}
	return resp.StatusCode() < http.StatusInternalServerError
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}
