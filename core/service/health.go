package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nfcunha/vigil/core/models"
)

const (
	maxHealthBody = 2 << 10
	reasonNoResp  = "no-response"
	reasonUnknown = "unknown-service"
	healthPath    = "/health"
)

// HealthChecker calls a service's /health endpoint with a per-call timeout.
type HealthChecker struct {
	client  *http.Client
	timeout time.Duration
}

// NewHealthChecker creates a checker with the given per-call timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Check calls baseURL + /health. A transport failure is reported as
// no-response and a non-2xx code as status=<code>.
func (h *HealthChecker) Check(ctx context.Context, baseURL string) models.HealthResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+healthPath, nil)
	if err != nil {
		return models.HealthResult{Error: reasonNoResp}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return models.HealthResult{Error: reasonNoResp}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	result := models.HealthResult{
		Status: resp.StatusCode,
		Body:   string(body),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("status=%d", resp.StatusCode)
		return result
	}
	result.OK = true
	return result
}
