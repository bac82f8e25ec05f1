// Package invoke holds the HTTP clients that call the hosted provider
// APIs. Validation and normalization stay in the root package; this
// package owns transport only: request construction, authentication,
// timeouts, and handing raw responses back to the contract normalizers.
//
// No retry policy is implemented here. A failed call surfaces
// immediately to the caller.
package invoke

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/copseworks/forage"
)

const (
	defaultSpiderBaseURL     = "https://api.spider.cloud"
	defaultLlamaParseBaseURL = "https://api.cloud.llamaindex.ai"
	defaultTimeout           = 120 * time.Second
	defaultPollInterval      = 2 * time.Second
)

// Invoker performs the network call for an integration definition and
// returns the normalized output.
type Invoker interface {
	Fetch(ctx context.Context, def forage.IntegrationDef) (forage.FetchOutput, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	SpiderBaseURL     string
	LlamaParseBaseURL string

	// Timeout bounds each HTTP request. Overall cancellation belongs to
	// the caller's context.
	Timeout time.Duration

	// PollInterval is the delay between LlamaParse job status checks.
	PollInterval time.Duration

	HTTPClient *http.Client
}

// Client dispatches integration definitions to the provider clients.
type Client struct {
	spider *SpiderClient
	llama  *LlamaParseClient
}

// NewClient creates a Client with per-provider sub-clients.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	spiderBase := cfg.SpiderBaseURL
	if spiderBase == "" {
		spiderBase = defaultSpiderBaseURL
	}
	llamaBase := cfg.LlamaParseBaseURL
	if llamaBase == "" {
		llamaBase = defaultLlamaParseBaseURL
	}

	return &Client{
		spider: &SpiderClient{baseURL: spiderBase, client: httpClient},
		llama:  &LlamaParseClient{baseURL: llamaBase, client: httpClient, pollInterval: pollInterval},
	}
}

// Fetch validates the definition, checks its credentials, and dispatches
// to the provider client. Validation failures surface before any network
// call is made.
func (c *Client) Fetch(ctx context.Context, def forage.IntegrationDef) (forage.FetchOutput, error) {
	if err := def.Validate(); err != nil {
		return forage.FetchOutput{}, err
	}
	if def.Setup == nil {
		return forage.FetchOutput{}, missingSetupError(def.Provider)
	}
	if err := def.Setup.Validate(); err != nil {
		return forage.FetchOutput{}, err
	}
	if def.Arguments == nil {
		return forage.FetchOutput{}, fmt.Errorf("%s: arguments are required", def.Provider)
	}

	switch def.Provider {
	case forage.ProviderSpider:
		return c.spider.Crawl(ctx,
			def.Setup.(*forage.SpiderSetup),
			def.Arguments.(*forage.SpiderArguments))
	case forage.ProviderLlamaParse:
		return c.llama.Parse(ctx,
			def.Setup.(*forage.LlamaParseSetup),
			def.Arguments.(*forage.LlamaParseArguments))
	default:
		return forage.FetchOutput{}, fmt.Errorf("%w: %q", forage.ErrUnknownProvider, def.Provider)
	}
}

func missingSetupError(p forage.Provider) error {
	field := "setup"
	switch p {
	case forage.ProviderSpider:
		field = "spider_api_key"
	case forage.ProviderLlamaParse:
		field = "llamaparse_api_key"
	}
	return &forage.ConfigError{
		Provider: p,
		Field:    field,
		Message:  "setup is required for execution",
	}
}

var _ Invoker = (*Client)(nil)
