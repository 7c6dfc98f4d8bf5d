package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mbecker/n8nboard/internal/domain/model"
)

// APIKeyHeader is the header n8n expects its API key in. The key travels
// only here — never in the target URL.
const APIKeyHeader = "X-N8N-API-KEY"

// ErrUpstreamUnavailable is returned when the upstream call fails at the
// transport level: connection refused, DNS failure, or timeout. A non-2xx
// upstream status is NOT this error; those responses are relayed as-is.
var ErrUpstreamUnavailable = errors.New("upstream unreachable")

// UpstreamResponse is the relayed outcome of one upstream call.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forwarder performs exactly one upstream call per Forward invocation and
// reports exactly one outcome. Retries, if wanted, belong to the caller.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

// NewForwarder creates a Forwarder whose upstream calls are bounded by
// timeout.
func NewForwarder(timeout time.Duration, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// NewForwarderWithHTTPClient creates a Forwarder with a custom http.Client,
// intended for tests.
func NewForwarderWithHTTPClient(client *http.Client, logger *slog.Logger) *Forwarder {
	return &Forwarder{client: client, logger: logger}
}

// TargetURL builds the upstream URL from resolved base URL, forwarded path
// suffix, and verbatim query string.
func TargetURL(baseURL, pathSuffix, rawQuery string) string {
	target := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(pathSuffix, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forward issues the upstream request and relays status and body
// untouched. body is attached only for methods other than GET and HEAD.
// Transport failures and timeouts return ErrUpstreamUnavailable.
func (f *Forwarder) Forward(ctx context.Context, creds model.ResolvedCredentials, method, pathSuffix, rawQuery string, body []byte) (*UpstreamResponse, error) {
	target := TargetURL(creds.BaseURL, pathSuffix, rawQuery)

	var reqBody io.Reader
	if len(body) > 0 && method != http.MethodGet && method != http.MethodHead {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set(APIKeyHeader, creds.APIKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("upstream call failed", "method", method, "path", pathSuffix, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, pathSuffix, ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Error("upstream body read failed", "method", method, "path", pathSuffix, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, pathSuffix, ErrUpstreamUnavailable)
	}

	f.logger.Debug("upstream call",
		"method", method,
		"path", pathSuffix,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
