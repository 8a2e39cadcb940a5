package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// per-wallet on-chain activity feeds.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// UserActivity returns the most recent activity entries for a wallet,
// newest first.
func (d *DataClient) UserActivity(ctx context.Context, address string, limit, offset int) ([]domain.Activity, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := doGet(ctx, d.httpClient, d.baseURL+"/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get activity for %s: %w", address, err)
	}

	var apiActivities []APIActivity
	if err := json.Unmarshal(body, &apiActivities); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	activities := make([]domain.Activity, 0, len(apiActivities))
	for i := range apiActivities {
		activities = append(activities, apiActivities[i].ToDomainActivity())
	}

	return activities, nil
}
