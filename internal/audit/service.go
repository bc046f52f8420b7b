package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

type Service struct {
	db     database.Client
	logger *slog.Logger
}

func NewService(db database.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

type LogEntry struct {
	TenantID     string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IPAddress    string
}

// Log writes an entry for the tenant and user on ctx. An explicit TenantID
// wins over the context.
func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	tenantID := entry.TenantID
	if tenantID == "" {
		tenantID = tenant.IDFromContext(ctx)
	}
	if tenantID == "" {
		if tc, ok := tenant.ScopeFromContext(ctx); ok {
			tenantID = tc.TenantID
		}
	}

	rec := database.Record{
		"id":            uuid.NewString(),
		"tenant_id":     tenantID,
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"details":       entry.Details,
		"created_at":    time.Now().UTC(),
	}
	if user := tenant.UserFromContext(ctx); user != nil {
		rec["user_id"] = user.ID
	}
	if entry.IPAddress != "" {
		if ip, err := netip.ParseAddr(entry.IPAddress); err == nil {
			rec["ip_address"] = ip.String()
		}
	}

	if _, err := s.db.Create(ctx, database.TableAuditLogs, rec); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Record logs and swallows the error; audit failures never fail a request.
func (s *Service) Record(ctx context.Context, entry LogEntry) {
	if s == nil {
		return
	}
	if err := s.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", "action", entry.Action, "error", err)
	}
}

type AuditQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Action    string
	Limit     int
	Offset    int
}

// GetAuditLogs lists the tenant's entries newest first. The date range is
// applied after paging, so a filtered page can be short.
func (s *Service) GetAuditLogs(ctx context.Context, tenantID string, q AuditQuery) ([]models.AuditLog, *database.Pagination, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	filter := map[string]any{"tenant_id": tenantID}
	if q.Action != "" {
		filter["action"] = q.Action
	}

	page, err := s.db.FindMany(ctx, database.TableAuditLogs, database.QueryOptions{
		Filter: filter,
		Sort:   []database.SortField{{Field: "created_at", Desc: true}},
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("query audit logs: %w", err)
	}
	logs, err := database.DecodeAll[models.AuditLog](page.Records)
	if err != nil {
		return nil, nil, err
	}

	out := logs[:0]
	for _, l := range logs {
		if q.StartDate != nil && l.CreatedAt.Before(*q.StartDate) {
			continue
		}
		if q.EndDate != nil && l.CreatedAt.After(*q.EndDate) {
			continue
		}
		out = append(out, l)
	}
	return out, page.Pagination, nil
}
