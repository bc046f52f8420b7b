package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

type signup struct {
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8"`
	Name     string   `json:"name" validate:"omitempty,notblank"`
	Domain   string   `json:"domain" validate:"omitempty,domainname"`
	Slug     string   `json:"slug" validate:"omitempty,slug"`
	Events   []string `json:"events" validate:"omitempty,dive,notblank"`
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, Validate(signup{Email: "a@example.com", Password: "longenough", Domain: "shop.example.com", Slug: "acme"}))
}

func TestValidateFieldDetails(t *testing.T) {
	err := Validate(signup{Email: "nope", Password: "short", Name: "  "})
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "email must be a valid email", appErr.Message)
	assert.Equal(t, "password must be at least 8", appErr.Details["password"])
	assert.Equal(t, "name must not be blank", appErr.Details["name"])
}

func TestValidateCustomTags(t *testing.T) {
	err := Validate(signup{Email: "a@example.com", Password: "longenough", Domain: "not a domain", Slug: "-x"})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Details, "domain")
	assert.Contains(t, appErr.Details, "slug")

	err = Validate(signup{Email: "a@example.com", Password: "longenough", Events: []string{"domain.verified", " "}})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "events[1] must not be blank", appErr.Details["events[1]"])
}
