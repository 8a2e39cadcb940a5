package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used for
// market resolution metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// MarketMetadata returns resolution metadata for a single market by its ID.
func (g *GammaClient) MarketMetadata(ctx context.Context, marketID string) (domain.MarketMetadata, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(marketID))

	body, err := doGet(ctx, g.httpClient, g.baseURL+path)
	if err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	return apiMarket.ToDomainMetadata(time.Now().UTC()), nil
}
