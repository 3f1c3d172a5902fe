package backend

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/observability"
)

// ErrUnauthenticated marks 401/403 answers; callers treat it as an expected pre-login state.
var ErrUnauthenticated = errors.New("backend: unauthenticated")

const maxErrorBody = 4 << 10

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthenticated
	}
	return nil
}

// Client is the remote feature API the resolver depends on.
type Client interface {
	ListFeatures(ctx context.Context) ([]domain.BackendFeature, error)
	SetFeatureEnabled(ctx context.Context, id string, enabled bool) error
	SyncUsageLimits(ctx context.Context) error
}

type Options struct {
	BaseURL       string
	FeaturesPath  string
	UsageSyncPath string
	Token         string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type HTTPClient struct {
	baseURL       string
	featuresPath  string
	usageSyncPath string
	token         string
	http          *http.Client
	tracer        trace.Tracer
}

func NewHTTPClient(opts Options) *HTTPClient {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	featuresPath := opts.FeaturesPath
	if featuresPath == "" {
		featuresPath = "/api/v1/features"
	}
	usagePath := opts.UsageSyncPath
	if usagePath == "" {
		usagePath = "/api/v1/usage/sync-limits"
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		featuresPath:  "/" + strings.Trim(featuresPath, "/"),
		usageSyncPath: "/" + strings.Trim(usagePath, "/"),
		token:         opts.Token,
		http:          hc,
		tracer:        observability.Tracer(),
	}
}

func (c *HTTPClient) ListFeatures(ctx context.Context) ([]domain.BackendFeature, error) {
	body, err := c.do(ctx, "list_features", http.MethodGet, c.featuresPath, nil)
	if err != nil {
		return nil, err
	}
	features, err := decodeFeatureList(body)
	if err != nil {
		return nil, fmt.Errorf("decode feature list: %w", err)
	}
	return features, nil
}

func (c *HTTPClient) SetFeatureEnabled(ctx context.Context, id string, enabled bool) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("backend: feature id is required")
	}
	payload, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "set_feature_enabled", http.MethodPatch, c.featuresPath+"/"+url.PathEscape(id), payload)
	return err
}

func (c *HTTPClient) SyncUsageLimits(ctx context.Context) error {
	_, err := c.do(ctx, "sync_usage_limits", http.MethodPost, c.usageSyncPath, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, operation, method, path string, payload []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := c.baseURL + path
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", target))

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		observability.RecordBackendCall(ctx, operation, "error")
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		observability.RecordBackendCall(ctx, operation, "transport_error")
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordBackendCall(ctx, operation, "read_error")
		return nil, fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Method: method, URL: target, Status: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		outcome := "http_error"
		if errors.Is(statusErr, ErrUnauthenticated) {
			outcome = "unauthenticated"
		}
		observability.RecordBackendCall(ctx, operation, outcome)
		return nil, statusErr
	}
	observability.RecordBackendCall(ctx, operation, "success")
	return body, nil
}

// decodeFeatureList accepts either a bare array or an object wrapping it under "data".
func decodeFeatureList(body []byte) ([]domain.BackendFeature, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []domain.BackendFeature
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped struct {
		Data []domain.BackendFeature `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
