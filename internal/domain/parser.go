// Package domain classifies request hosts and produces the DNS records a
// tenant has to publish to prove control of a custom domain.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type Info struct {
	Domain         string `json:"domain"`
	Subdomain      string `json:"subdomain,omitempty"`
	RootDomain     string `json:"root_domain"`
	IsSubdomain    bool   `json:"is_subdomain"`
	IsCustomDomain bool   `json:"is_custom_domain"`
}

// Type is the value sent in the X-Domain-Type header.
func (i Info) Type() string {
	switch {
	case i.IsSubdomain:
		return "subdomain"
	case i.IsCustomDomain:
		return "custom"
	default:
		return "root"
	}
}

type Parser struct {
	roots []string
}

// NewParser builds a parser for the given platform root domains. Empty
// entries are ignored; matching is case-insensitive.
func NewParser(roots ...string) *Parser {
	p := &Parser{}
	for _, r := range roots {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			p.roots = append(p.roots, r)
		}
	}
	return p
}

func (p *Parser) Roots() []string {
	return append([]string(nil), p.roots...)
}

var portSuffix = regexp.MustCompile(`:\d+$`)

// Parse never fails: anything that is not a platform root or one of its
// subdomains is reported as a custom domain.
func (p *Parser) Parse(host string) Info {
	d := portSuffix.ReplaceAllString(strings.ToLower(strings.TrimSpace(host)), "")

	info := Info{Domain: d, RootDomain: d}

	var best string
	for _, root := range p.roots {
		if d == root {
			info.RootDomain = root
			return info
		}
		if strings.HasSuffix(d, "."+root) && len(root) > len(best) {
			best = root
		}
	}

	if best != "" {
		sub := strings.TrimSuffix(d, "."+best)
		if sub != "" {
			info.RootDomain = best
			info.Subdomain = sub
			info.IsSubdomain = true
			return info
		}
	}

	info.IsCustomDomain = d != ""
	return info
}

// ExtractTenantIdentifier returns the subdomain label for platform subdomains,
// the full host for custom domains, and false for root traffic.
func ExtractTenantIdentifier(info Info) (string, bool) {
	if info.IsSubdomain && info.Subdomain != "" {
		return info.Subdomain, true
	}
	if info.IsCustomDomain {
		return info.Domain, true
	}
	return "", false
}

// BuildTenantURL links to a tenant's platform subdomain.
func BuildTenantURL(slug, rootDomain, path string, secure bool) string {
	return fmt.Sprintf("%s://%s.%s%s", scheme(secure), slug, rootDomain, path)
}

func BuildCustomDomainURL(domain, path string, secure bool) string {
	return fmt.Sprintf("%s://%s%s", scheme(secure), domain, path)
}

func scheme(secure bool) string {
	if secure {
		return "https"
	}
	return "http"
}
