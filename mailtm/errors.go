package mailtm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mail.tm API error (%d) on %s %s: %s",
		e.StatusCode, e.Method, e.Path, e.Message)
}

// AuthError indicates that the token is missing, invalid or expired, or that
// the address/password pair was rejected. It is returned for 401 responses.
type AuthError struct {
	APIError
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// Unwrap exposes the underlying APIError.
func (e *AuthError) Unwrap() error {
	return &e.APIError
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsRateLimited reports whether err is an APIError with status 429.
func IsRateLimited(err error) bool {
	return statusOf(err) == http.StatusTooManyRequests
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorResponse covers the error shapes the API produces: hydra errors,
// problem+json, constraint violations and the plain {code, message} form.
type errorResponse struct {
	HydraTitle       string `json:"hydra:title"`
	HydraDescription string `json:"hydra:description"`
	Title            string `json:"title"`
	Detail           string `json:"detail"`
	Message          string `json:"message"`
	Violations       []struct {
		PropertyPath string `json:"propertyPath"`
		Message      string `json:"message"`
	} `json:"violations"`
}

func (r errorResponse) text() string {
	if len(r.Violations) > 0 {
		msgs := make([]string, 0, len(r.Violations))
		for _, v := range r.Violations {
			if v.PropertyPath != "" {
				msgs = append(msgs, v.PropertyPath+": "+v.Message)
			} else {
				msgs = append(msgs, v.Message)
			}
		}
		return strings.Join(msgs, "; ")
	}
	for _, s := range []string{r.HydraDescription, r.Detail, r.Message, r.HydraTitle, r.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}

// newResponseError maps a failed response onto APIError or AuthError.
func newResponseError(status int, method, path string, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		if t := er.text(); t != "" {
			msg = t
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	apiErr := APIError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Message:    msg,
	}
	if status == http.StatusUnauthorized {
		return &AuthError{APIError: apiErr}
	}
	return &apiErr
}
