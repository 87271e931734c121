// Package oracle talks to the external issuer verification service.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rl1809/carbon-exchange/internal/port"
)

const defaultTimeout = 10 * time.Second

var (
	_ port.VerificationOracle = (*HTTPOracle)(nil)
	_ port.VerificationOracle = Disabled{}
)

// HTTPOracle queries GET {base}/v1/assessments?issuer=&project_id= and
// expects a JSON assessment back.
type HTTPOracle struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPOracle(baseURL string, client *http.Client) (*HTTPOracle, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse oracle url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("oracle url %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPOracle{base: base, client: client}, nil
}

func (o *HTTPOracle) Assess(ctx context.Context, issuer, projectID string) (port.Assessment, error) {
	u := o.base.JoinPath("v1", "assessments")
	u.RawQuery = url.Values{"issuer": {issuer}, "project_id": {projectID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return port.Assessment{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return port.Assessment{}, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return port.Assessment{}, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var a port.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return port.Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	return a, nil
}

// Disabled declines every issuer. It is used when no oracle is configured
// so reviews fail closed.
type Disabled struct{}

func (Disabled) Assess(context.Context, string, string) (port.Assessment, error) {
	return port.Assessment{Reason: "no verification oracle configured"}, nil
}
