package database

import (
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

// newRESTClient configures retries on transport errors and 5xx responses
// with exponential backoff.
func newRESTClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// restError maps a failed call onto the apperrors taxonomy.
func restError(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.Upstream(err, fmt.Sprintf("%s request failed", provider))
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := fmt.Sprintf("%s returned %d", provider, resp.StatusCode())
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return apperrors.NotFound(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.New(apperrors.KindUnauthorized, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(msg).WithDetails(map[string]any{"body": resp.String()})
	}
	return apperrors.Upstream(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), msg)
}

func listStrings(v any) []string {
	rv := reflect.ValueOf(v)
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, fmt.Sprint(sqlArg(rv.Index(i).Interface())))
	}
	return out
}
