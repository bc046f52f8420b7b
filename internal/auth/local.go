package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const minPasswordLength = 8

// Local authenticates against the users table with bcrypt hashes and signs
// its own JWTs. Signed-out token ids are kept in the revocation cache until
// they would have expired anyway.
type Local struct {
	store   database.Store
	tokens  *Tokens
	revoked *cache.Cache
}

var _ database.Authenticator = (*Local)(nil)

func NewLocal(store database.Store, tokens *Tokens, revoked *cache.Cache) *Local {
	return &Local{store: store, tokens: tokens, revoked: revoked}
}

func revokedKey(jti string) string { return "auth:revoked:" + jti }

func (l *Local) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.Validation("invalid email address").WithDetails(map[string]any{"email": "invalid"})
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.Validation("password too short").WithDetails(map[string]any{
			"password": fmt.Sprintf("must be at least %d characters", minPasswordLength),
		})
	}

	_, err := l.store.FindOne(ctx, database.TableUsers, map[string]any{"email": email}, database.QueryOptions{})
	if err == nil {
		return nil, apperrors.Conflict("email already registered")
	}
	if !database.IsNotFound(err) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	role := models.RoleUser
	if r, ok := meta["role"].(string); ok && models.Role(r).Valid() {
		role = models.Role(r)
	}
	rec := database.Record{
		"email":         email,
		"password_hash": string(hash),
		"role":          role,
		"status":        "active",
	}
	if tid, ok := meta["tenant_id"].(string); ok && tid != "" {
		rec["tenant_id"] = tid
	}
	if name, ok := meta["name"].(string); ok {
		rec["name"] = name
	}
	delete(meta, "tenant_id")
	delete(meta, "role")
	delete(meta, "name")
	if len(meta) > 0 {
		rec["metadata"] = meta
	}

	created, err := l.store.Create(ctx, database.TableUsers, rec)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return database.Decode[models.User](created)
}

func (l *Local) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	rec, err := l.store.FindOne(ctx, database.TableUsers, map[string]any{"email": email}, database.QueryOptions{})
	if err != nil {
		if database.IsNotFound(err) {
			return nil, unauthorized("invalid email or password")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.String("password_hash")), []byte(password)) != nil {
		return nil, unauthorized("invalid email or password")
	}

	u, err := database.Decode[models.User](rec)
	if err != nil {
		return nil, err
	}
	if u.Status != "" && u.Status != "active" {
		return nil, apperrors.AccessDenied("account is not active")
	}
	token, _, err := l.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &models.Session{User: u, Token: token}, nil
}

func (l *Local) SignOut(ctx context.Context, token string) error {
	claims, err := l.tokens.Parse(token)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := l.revoked.Set(ctx, revokedKey(claims.ID), true, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (l *Local) GetCurrentUser(ctx context.Context, token string) (*models.User, error) {
	claims, err := l.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	var revoked bool
	switch err := l.revoked.Get(ctx, revokedKey(claims.ID), &revoked); {
	case err == nil && revoked:
		return nil, unauthorized("token revoked")
	case err != nil && !errors.Is(err, cache.ErrMiss):
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "check token revocation")
	}

	rec, err := l.store.FindByID(ctx, database.TableUsers, claims.Subject, database.QueryOptions{})
	if err != nil {
		if database.IsNotFound(err) {
			return nil, unauthorized("user not found")
		}
		return nil, err
	}
	return database.Decode[models.User](rec)
}

// UpdateProfile rehashes "password" and refuses to touch the id or hash.
func (l *Local) UpdateProfile(ctx context.Context, userID string, data database.Record) (*models.User, error) {
	patch := data.Clone()
	delete(patch, "id")
	delete(patch, "password_hash")
	if pw, ok := patch["password"].(string); ok {
		delete(patch, "password")
		if len(pw) < minPasswordLength {
			return nil, apperrors.Validation("password too short")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		patch["password_hash"] = string(hash)
	}
	if email, ok := patch["email"].(string); ok {
		patch["email"] = strings.ToLower(strings.TrimSpace(email))
	}
	patch["updated_at"] = time.Now().UTC()

	rec, err := l.store.Update(ctx, database.TableUsers, userID, patch)
	if err != nil {
		return nil, err
	}
	return database.Decode[models.User](rec)
}
