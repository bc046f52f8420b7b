package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const defaultCloudflareURL = "https://api.cloudflare.com/client/v4"

type CloudflareConfig struct {
	APIURL  string
	Token   string
	ZoneID  string
	Targets domain.Targets
}

// Cloudflare manages records in one zone through the v4 REST API.
type Cloudflare struct {
	http    *resty.Client
	zone    string
	targets domain.Targets
	logger  *slog.Logger
}

func NewCloudflare(cfg CloudflareConfig, logger *slog.Logger) *Cloudflare {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultCloudflareURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	return &Cloudflare{http: c, zone: cfg.ZoneID, targets: cfg.Targets, logger: logger}
}

type cfMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfEnvelope[T any] struct {
	Success bool        `json:"success"`
	Errors  []cfMessage `json:"errors"`
	Result  T           `json:"result"`
}

type cfCertificatePack struct {
	Hosts                []string `json:"hosts"`
	Status               string   `json:"status"`
	CertificateAuthority string   `json:"certificate_authority"`
	ExpiresOn            string   `json:"expires_on"`
}

func cfDo[T any](ctx context.Context, c *Cloudflare, method, path string, query url.Values, body any, op string) (T, error) {
	var (
		out    cfEnvelope[T]
		failed cfEnvelope[json.RawMessage]
		zero   T
	)
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&failed)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, apperrors.Upstream(fmt.Errorf("cloudflare %s: %w", op, err), "failed to "+op)
	}
	if resp.IsError() {
		return zero, cfError(op, resp.StatusCode(), failed.Errors)
	}
	if !out.Success {
		return zero, cfError(op, resp.StatusCode(), out.Errors)
	}
	return out.Result, nil
}

func cfError(op string, status int, msgs []cfMessage) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Message)
	}
	msg := "failed to " + op
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ", ")
	}
	cause := fmt.Errorf("cloudflare API error: %d %s", status, http.StatusText(status))
	if status == http.StatusNotFound {
		e := apperrors.NotFound(msg)
		e.Err = cause
		return e
	}
	return apperrors.Upstream(cause, msg)
}

func (c *Cloudflare) recordsPath() string {
	return "/zones/" + c.zone + "/dns_records"
}

func (c *Cloudflare) createRecord(ctx context.Context, r Record) (Record, error) {
	if r.TTL == 0 {
		r.TTL = 1 // automatic
	}
	r.ID = ""
	return cfDo[Record](ctx, c, http.MethodPost, c.recordsPath(), nil, r, "create DNS record")
}

func (c *Cloudflare) deleteRecord(ctx context.Context, id string) error {
	_, err := cfDo[json.RawMessage](ctx, c, http.MethodDelete, c.recordsPath()+"/"+id, nil, nil, "delete DNS record")
	if apperrors.HasKind(err, apperrors.KindNotFound) {
		return nil
	}
	return err
}

func (c *Cloudflare) listRecords(ctx context.Context, recordType, name string) ([]Record, error) {
	q := url.Values{}
	if recordType != "" {
		q.Set("type", recordType)
	}
	if name != "" {
		q.Set("name", name)
	}
	return cfDo[[]Record](ctx, c, http.MethodGet, c.recordsPath(), q, nil, "list DNS records")
}

func (c *Cloudflare) CreateVerificationRecord(ctx context.Context, d, token string) (Record, error) {
	return c.createRecord(ctx, Record{Type: "TXT", Name: domain.VerificationPrefix + d, Content: token, TTL: recordTTL})
}

// CreateCNAMERecord creates a proxied CNAME so Cloudflare terminates TLS.
func (c *Cloudflare) CreateCNAMERecord(ctx context.Context, d, target string) (Record, error) {
	return c.createRecord(ctx, Record{Type: "CNAME", Name: d, Content: target, TTL: recordTTL, Proxied: true})
}

func (c *Cloudflare) CreateARecord(ctx context.Context, d, ip string) (Record, error) {
	return c.createRecord(ctx, Record{Type: "A", Name: d, Content: ip, TTL: recordTTL, Proxied: true})
}

// SetupCustomDomain publishes the ownership TXT record and a routing record,
// preferring a CNAME when a CNAME target is configured.
func (c *Cloudflare) SetupCustomDomain(ctx context.Context, d, token string) (SetupRecords, error) {
	if c.targets.CNAME == "" && c.targets.A == "" {
		return SetupRecords{}, apperrors.Configuration("no routing target configured (CNAME target or A record)")
	}

	txt, err := c.CreateVerificationRecord(ctx, d, token)
	if err != nil {
		return SetupRecords{}, err
	}

	var routing Record
	if c.targets.CNAME != "" {
		routing, err = c.CreateCNAMERecord(ctx, d, c.targets.CNAME)
	} else {
		routing, err = c.CreateARecord(ctx, d, c.targets.A)
	}
	if err != nil {
		return SetupRecords{}, err
	}
	return SetupRecords{VerificationRecord: txt, RoutingRecord: routing}, nil
}

// RemoveCustomDomain deletes the ownership and routing records for d. With
// nothing left to delete it does nothing.
func (c *Cloudflare) RemoveCustomDomain(ctx context.Context, d string) error {
	txt, err := c.listRecords(ctx, "TXT", domain.VerificationPrefix+d)
	if err != nil {
		return err
	}
	for _, r := range txt {
		if r.ID == "" {
			continue
		}
		if err := c.deleteRecord(ctx, r.ID); err != nil {
			return err
		}
	}

	routing, err := c.listRecords(ctx, "", d)
	if err != nil {
		return err
	}
	for _, r := range routing {
		if r.ID == "" || (r.Type != "CNAME" && r.Type != "A") {
			continue
		}
		if err := c.deleteRecord(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cloudflare) VerifyDNSConfiguration(ctx context.Context, d, token string) (Check, error) {
	txt, err := c.listRecords(ctx, "TXT", domain.VerificationPrefix+d)
	if err != nil {
		return Check{}, err
	}
	routing, err := c.listRecords(ctx, "", d)
	if err != nil {
		return Check{}, err
	}

	var out Check
	out.VerificationValid = slices.ContainsFunc(txt, func(r Record) bool {
		return strings.Trim(r.Content, `"`) == token
	})
	out.RoutingValid = slices.ContainsFunc(routing, func(r Record) bool {
		switch r.Type {
		case "CNAME":
			return c.targets.CNAME != "" && strings.EqualFold(r.Content, c.targets.CNAME)
		case "A":
			return c.targets.A != "" && r.Content == c.targets.A
		}
		return false
	})
	out.SSLEnabled = slices.ContainsFunc(routing, func(r Record) bool { return r.Proxied })
	return out, nil
}

func (c *Cloudflare) GetSSLStatus(ctx context.Context, d string) (Certificate, error) {
	packs, err := cfDo[[]cfCertificatePack](ctx, c, http.MethodGet, "/zones/"+c.zone+"/ssl/certificate_packs", nil, nil, "list certificate packs")
	if err != nil {
		return Certificate{Status: models.SSLFailed}, err
	}
	for _, p := range packs {
		if !slices.Contains(p.Hosts, d) {
			continue
		}
		status := models.SSLPending
		if p.Status == "active" {
			status = models.SSLActive
		}
		return Certificate{Status: status, CertificateAuthority: p.CertificateAuthority, ExpiresOn: p.ExpiresOn}, nil
	}
	return Certificate{Status: models.SSLPending}, nil
}
