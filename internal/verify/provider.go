// Package verify integrates the external token verification provider.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"tokenscope/internal/model"
)

// Provider answers verification requests for a token address.
type Provider interface {
	Verify(ctx context.Context, address string) (model.Verification, error)
}

// HTTPProvider queries a verification REST endpoint.
type HTTPProvider struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider builds a provider for the given base URL.
func NewHTTPProvider(baseURL string, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Verify(ctx context.Context, address string) (model.Verification, error) {
	endpoint := p.baseURL + "/v1/tokens/" + url.PathEscape(model.NormalizeAddress(address)) + "/verification"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Verification{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return model.Verification{}, fmt.Errorf("verification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.Verification{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.Verification{}, fmt.Errorf("verification status %d", resp.StatusCode)
	}

	var payload struct {
		IsVerified bool     `json:"isVerified"`
		Sources    []string `json:"sources"`
		Confidence int      `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.Verification{}, fmt.Errorf("decode verification response: %w", err)
	}

	return model.Verification{
		IsVerified: payload.IsVerified,
		Sources:    payload.Sources,
		Confidence: payload.Confidence,
	}, nil
}
