package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/models"
)

// zoneResolver answers from published DomainVerification records only.
type zoneResolver struct {
	records []models.DomainVerification
}

func (z *zoneResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	var out []string
	for _, r := range z.records {
		if r.Type == "TXT" && r.Name == name {
			out = append(out, r.Value)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no such host")
	}
	return out, nil
}

func (z *zoneResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	for _, r := range z.records {
		if r.Type == "CNAME" && r.Name == host {
			return r.Value + ".", nil
		}
	}
	return "", errors.New("no such host")
}

func (z *zoneResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	var out []string
	for _, r := range z.records {
		if r.Type == "A" && r.Name == host {
			out = append(out, r.Value)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no such host")
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateDomainVerificationDefaults(t *testing.T) {
	recs := GenerateDomainVerification("shop.example.org", "tok", Targets{})
	require.Len(t, recs, 3)

	assert.Equal(t, models.DomainVerification{Domain: "shop.example.org", Type: "TXT", Name: "_saas-verify.shop.example.org", Value: "tok"}, recs[0])
	assert.Equal(t, DefaultCNAMETarget, recs[1].Value)
	assert.Equal(t, DefaultARecordValue, recs[2].Value)
}

func TestVerificationRoundTrip(t *testing.T) {
	token, err := GenerateVerificationToken()
	require.NoError(t, err)

	targets := Targets{CNAME: "edge.yoursaas.com"}
	published := GenerateDomainVerification("shop.example.org", token, targets)

	v := NewVerifier(&zoneResolver{records: published[:1]}, targets, quietLogger())
	assert.True(t, v.VerifyDomainOwnership(context.Background(), "shop.example.org", token))
	assert.False(t, v.VerifyDomainOwnership(context.Background(), "shop.example.org", "other"))
	assert.False(t, v.VerifyDomainOwnership(context.Background(), "other.example.org", token))
}

func TestCheckDomainPointing(t *testing.T) {
	ctx := context.Background()
	published := GenerateDomainVerification("shop.example.org", "tok", Targets{CNAME: "edge.yoursaas.com", A: "203.0.113.7"})

	t.Run("cname match", func(t *testing.T) {
		v := NewVerifier(&zoneResolver{records: published[1:2]}, Targets{CNAME: "edge.yoursaas.com"}, quietLogger())
		assert.True(t, v.CheckDomainPointing(ctx, "shop.example.org"))
	})

	t.Run("a record fallback", func(t *testing.T) {
		v := NewVerifier(&zoneResolver{records: published[2:]}, Targets{CNAME: "edge.yoursaas.com", A: "203.0.113.7"}, quietLogger())
		assert.True(t, v.CheckDomainPointing(ctx, "shop.example.org"))
	})

	t.Run("no configured target", func(t *testing.T) {
		v := NewVerifier(&zoneResolver{records: published}, Targets{}, quietLogger())
		assert.False(t, v.CheckDomainPointing(ctx, "shop.example.org"))
	})

	t.Run("wrong address", func(t *testing.T) {
		v := NewVerifier(&zoneResolver{records: published[2:]}, Targets{A: "198.51.100.1"}, quietLogger())
		assert.False(t, v.CheckDomainPointing(ctx, "shop.example.org"))
	})
}

func TestCheckSSLCertificate(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{"ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }, true},
		{"redirect elsewhere", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://unreachable.invalid/login", http.StatusMovedPermanently)
		}, true},
		{"head not allowed", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}, true},
		{"no upstream", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewTLSServer(tt.handler)
			defer srv.Close()

			v := NewVerifier(&zoneResolver{}, Targets{}, quietLogger())
			v.http.SetTransport(srv.Client().Transport)
			assert.Equal(t, tt.want, v.CheckSSLCertificate(context.Background(), strings.TrimPrefix(srv.URL, "https://")))
		})
	}
}

func TestCheckSSLCertificateRejectsUntrustedCert(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	v := NewVerifier(&zoneResolver{}, Targets{}, quietLogger())
	assert.False(t, v.CheckSSLCertificate(context.Background(), strings.TrimPrefix(srv.URL, "https://")))
}
