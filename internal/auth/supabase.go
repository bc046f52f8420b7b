package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

// Supabase delegates identity to Supabase Auth (GoTrue). Tenant id, role and
// name live in user_metadata.
type Supabase struct {
	http *resty.Client
	key  string
}

var _ database.Authenticator = (*Supabase)(nil)

func NewSupabase(projectURL, apiKey string) *Supabase {
	c := resty.New().
		SetBaseURL(strings.TrimRight(projectURL, "/")+"/auth/v1").
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json")
	return &Supabase{http: c, key: apiKey}
}

type goTrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (g *goTrueUser) toUser() *models.User {
	u := &models.User{
		ID:        g.ID,
		Email:     g.Email,
		Role:      models.RoleUser,
		Status:    "active",
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
		Metadata:  map[string]any{},
	}
	for k, v := range g.UserMetadata {
		switch k {
		case "tenant_id":
			u.TenantID, _ = v.(string)
		case "name":
			u.Name, _ = v.(string)
		case "role":
			if r := models.Role(fmt.Sprint(v)); r.Valid() {
				u.Role = r
			}
		default:
			u.Metadata[k] = v
		}
	}
	return u
}

type goTrueError struct {
	Message string `json:"msg"`
	Error   string `json:"error_description"`
}

func gotrueError(resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.Upstream(err, "supabase auth request failed")
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := "supabase auth error"
	if e, ok := resp.Error().(*goTrueError); ok {
		if e.Message != "" {
			msg = e.Message
		} else if e.Error != "" {
			msg = e.Error
		}
	}
	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return unauthorized(msg)
	case http.StatusNotFound:
		return apperrors.NotFound(msg)
	case http.StatusTooManyRequests:
		return apperrors.New(apperrors.KindRateLimited, msg)
	}
	return apperrors.Upstream(fmt.Errorf("status %d", resp.StatusCode()), msg)
}

func (s *Supabase) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error) {
	var out goTrueUser
	resp, err := s.http.R().SetContext(ctx).
		SetBody(map[string]any{"email": email, "password": password, "data": metadata}).
		SetResult(&out).SetError(&goTrueError{}).
		Post("/signup")
	if err := gotrueError(resp, err); err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

func (s *Supabase) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var out struct {
		AccessToken string     `json:"access_token"`
		User        goTrueUser `json:"user"`
	}
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).SetError(&goTrueError{}).
		Post("/token")
	if err := gotrueError(resp, err); err != nil {
		return nil, err
	}
	return &models.Session{User: out.User.toUser(), Token: out.AccessToken}, nil
}

func (s *Supabase) SignOut(ctx context.Context, token string) error {
	resp, err := s.http.R().SetContext(ctx).
		SetAuthToken(token).SetError(&goTrueError{}).
		Post("/logout")
	return gotrueError(resp, err)
}

func (s *Supabase) GetCurrentUser(ctx context.Context, token string) (*models.User, error) {
	var out goTrueUser
	resp, err := s.http.R().SetContext(ctx).
		SetAuthToken(token).SetResult(&out).SetError(&goTrueError{}).
		Get("/user")
	if err := gotrueError(resp, err); err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

// UpdateProfile goes through the admin endpoint, which requires the
// configured key to be a service-role key.
func (s *Supabase) UpdateProfile(ctx context.Context, userID string, data database.Record) (*models.User, error) {
	body := map[string]any{}
	meta := map[string]any{}
	for k, v := range data {
		switch k {
		case "email", "password":
			body[k] = v
		case "id":
		default:
			meta[k] = v
		}
	}
	if len(meta) > 0 {
		body["user_metadata"] = meta
	}

	var out goTrueUser
	resp, err := s.http.R().SetContext(ctx).
		SetAuthToken(s.key).
		SetBody(body).SetResult(&out).SetError(&goTrueError{}).
		Put("/admin/users/" + userID)
	if err := gotrueError(resp, err); err != nil {
		return nil, err
	}
	return out.toUser(), nil
}
