package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/store"
)

const maxErrorBody = 4 << 10

// HTTPService talks to the marketplace REST API.
type HTTPService struct {
	BaseURL string
	Token   func(context.Context) (string, error)
	HTTP    *http.Client
	Timeout time.Duration
}

func NewHTTPService(baseURL string, token func(context.Context) (string, error), timeout time.Duration) *HTTPService {
	return &HTTPService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{},
		Timeout: timeout,
	}
}

// StaticToken returns a token supplier for a fixed bearer token.
func StaticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return token, nil }
}

func (s *HTTPService) GetAll(ctx context.Context) (Relations, error) {
	var out Relations
	if err := s.do(ctx, http.MethodGet, "/favorites", &out); err != nil {
		return Relations{}, err
	}
	if out.Deals == nil {
		out.Deals = []store.EntityRef{}
	}
	if out.Pharmacies == nil {
		out.Pharmacies = []store.EntityRef{}
	}
	return out, nil
}

func (s *HTTPService) Add(ctx context.Context, kind store.Kind, id string) (AddResult, error) {
	var out AddResult
	if err := s.do(ctx, http.MethodPost, relationPath(kind, id), &out); err != nil {
		return AddResult{}, err
	}
	return out, nil
}

func (s *HTTPService) Remove(ctx context.Context, kind store.Kind, id string) error {
	return s.do(ctx, http.MethodDelete, relationPath(kind, id), nil)
}

func relationPath(kind store.Kind, id string) string {
	return "/favorites/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id)
}

func (s *HTTPService) do(ctx context.Context, method, path string, out any) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, nil)
	if err != nil {
		return &Error{Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	if s.Token != nil {
		token, err := s.Token(ctx)
		if err != nil {
			return &Error{Message: "session unavailable", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		logger.Log.Debug("Remote request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return normalizeTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return normalizeStatus(resp.StatusCode, body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Message: "malformed server response", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func normalizeTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Message: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Message: "request timed out", Temporary: true, Err: err}
	}
	return &Error{Message: "network unavailable", Temporary: true, Err: err}
}

func normalizeStatus(status int, body []byte) *Error {
	e := &Error{StatusCode: status}
	switch {
	case status == http.StatusUnauthorized:
		e.Message = "session expired"
	case status == http.StatusForbidden:
		e.Message = "not allowed"
	case status == http.StatusNotFound:
		e.Message = "not found"
	case status >= 500:
		e.Message = "server error"
		e.Temporary = true
	default:
		e.Message = serverMessage(body)
		if e.Message == "" {
			e.Message = strings.ToLower(http.StatusText(status))
		}
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("unexpected status %d", status)
	}
	return e
}

// serverMessage extracts {"message": "..."} from an error body.
func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return ""
	}
	return payload.Message
}
