package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"drip/internal/config"
	"drip/internal/constants"
	"drip/internal/logger"
	"drip/pkg/circuitbreaker"
	"drip/pkg/metrics"

	pkgerrors "drip/pkg/errors"
)

// Client sends email batches to the delivery provider's HTTP API.
type Client interface {
	// SendBatch submits emails under the given credential. The returned
	// slice is positional: results[i] corresponds to emails[i]. A non-nil
	// error means the whole batch failed and no results are available.
	SendBatch(ctx context.Context, credential string, idemKey string, emails []BatchEmail) ([]Result, error)
	// VerifyKey proves a credential against the provider without sending
	// anything. An ErrProviderKey error means the key was rejected.
	VerifyKey(ctx context.Context, credential string) error
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewClient(cfg config.GatewayConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultGatewayTimeout
	}

	var breaker *circuitbreaker.Wrapper
	if cbCfg.Enabled {
		breaker = circuitbreaker.NewWrapper(circuitbreaker.Config{
			Name:         "email-gateway",
			MaxRequests:  cbCfg.MaxRequests,
			Interval:     cbCfg.Interval,
			Timeout:      cbCfg.Timeout,
			FailureRatio: cbCfg.FailureRatio,
			MinRequests:  cbCfg.MinRequests,
		})
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  log,
	}
}

func (c *HTTPClient) SendBatch(ctx context.Context, credential string, idemKey string, emails []BatchEmail) ([]Result, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	start := time.Now()
	var results []Result
	var err error

	if c.breaker != nil {
		var out interface{}
		out, err = c.breaker.Execute(ctx, func() (interface{}, error) {
			return c.doSend(ctx, credential, idemKey, emails)
		})
		if err == nil {
			results = out.([]Result)
		}
	} else {
		results, err = c.doSend(ctx, credential, idemKey, emails)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveBatchSend(time.Since(start), status)

	return results, err
}

// VerifyKey lists the provider's domains, the cheapest authenticated call
// the provider exposes.
func (c *HTTPClient) VerifyKey(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+constants.GatewayDomainsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.ErrSendFailed.WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return pkgerrors.ErrProviderKey.WithDetail("status_code", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.ErrSendFailed.WithDetail("status_code", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) doSend(ctx context.Context, credential string, idemKey string, emails []BatchEmail) ([]Result, error) {
	body, err := json.Marshal(emails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+constants.GatewayBatchEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	if idemKey != "" {
		req.Header.Set(constants.HeaderIdemKey, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.ErrBatchSendFailed.WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.ErrBatchSendFailed.WithCause(err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, pkgerrors.ErrProviderKey.WithDetail("status_code", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, pkgerrors.ErrBatchSendFailed.
			WithDetail("status_code", resp.StatusCode).
			WithDetail("body", truncate(string(raw), 500))
	}

	var parsed batchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, pkgerrors.ErrBatchSendFailed.WithCause(err)
	}
	if len(parsed.Data) != len(emails) {
		return nil, pkgerrors.ErrBatchSendFailed.
			WithDetail("message", "batch response size mismatch").
			WithDetail("expected", len(emails)).
			WithDetail("got", len(parsed.Data))
	}

	results := make([]Result, len(parsed.Data))
	for i, item := range parsed.Data {
		if item.Error != nil {
			results[i] = Result{OK: false, Error: item.Error.Message}
			continue
		}
		results[i] = Result{OK: true, ProviderMessageID: item.ID}
	}
	return results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
