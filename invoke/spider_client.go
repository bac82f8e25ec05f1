package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/copseworks/forage"
)

// SpiderClient calls the Spider web-crawling API.
type SpiderClient struct {
	baseURL string
	client  *http.Client
}

// Crawl submits a crawl request and normalizes the response. The open
// Params mapping is merged into the request body first, so the declared
// url and mode fields always win on key collisions.
func (c *SpiderClient) Crawl(ctx context.Context, setup *forage.SpiderSetup, args *forage.SpiderArguments) (forage.FetchOutput, error) {
	payload := make(map[string]any, len(args.Params)+2)
	for key, value := range args.Params {
		payload[key] = value
	}
	payload["url"] = args.URL
	payload["mode"] = args.Mode

	body, err := json.Marshal(payload)
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("spider: encode crawl request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("spider: build crawl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+setup.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("spider: crawl request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("spider: read crawl response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return forage.FetchOutput{}, fmt.Errorf("spider: crawl returned status %d: %s", resp.StatusCode, message)
	}

	return forage.NormalizeSpiderResponse(respBody)
}
