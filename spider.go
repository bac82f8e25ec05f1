package forage

import (
	"encoding/json"
	"strings"
)

const (
	// SpiderModeScrape is the only crawl mode the integration supports.
	SpiderModeScrape = "scrape"

	// spiderContentField is the content field name on raw Spider items.
	spiderContentField = "page_content"
)

// SpiderSetup holds the credentials for the Spider web-crawling API.
type SpiderSetup struct {
	APIKey string `json:"spider_api_key"`
}

// Provider returns the spider provider tag.
func (s *SpiderSetup) Provider() Provider {
	return ProviderSpider
}

// Validate checks that the API key is present and non-empty.
func (s *SpiderSetup) Validate() error {
	if s == nil || strings.TrimSpace(s.APIKey) == "" {
		return newConfigError(ProviderSpider, "spider_api_key", "spider_api_key is required")
	}
	return nil
}

// SpiderArguments is the request payload for a Spider crawl.
// Params is an open mapping passed through to the provider unchanged.
type SpiderArguments struct {
	URL    string         `json:"url"`
	Mode   string         `json:"mode,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Provider returns the spider provider tag.
func (a *SpiderArguments) Provider() Provider {
	return ProviderSpider
}

// ApplyDefaults substitutes the declared defaults for omitted fields.
func (a *SpiderArguments) ApplyDefaults() {
	if a.Mode == "" {
		a.Mode = SpiderModeScrape
	}
}

// Validate checks the required URL and the mode enum.
func (a *SpiderArguments) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return newValidationError(ProviderSpider, "url", ErrCodeMissingField, "url is required")
	}
	if a.Mode != SpiderModeScrape {
		return newValidationError(ProviderSpider, "mode", ErrCodeInvalidEnum,
			"mode %q is not supported; must be %q", a.Mode, SpiderModeScrape)
	}
	return nil
}

// NormalizeSpiderResponse maps a raw Spider response into the common
// document shape. Each raw item's page_content becomes the document
// content; every other field is preserved as metadata.
func NormalizeSpiderResponse(raw json.RawMessage) (FetchOutput, error) {
	return normalizeItems(ProviderSpider, raw, spiderContentField)
}

func spiderCard() ProviderCard {
	return ProviderCard{
		Provider:    ProviderSpider,
		DisplayName: "Spider",
		Homepage:    "https://spider.cloud/",
		Docs:        "https://spider.cloud/docs/api",
		Icon:        "https://spider.cloud/favicon.ico",
		SetupFields: []SetupField{
			{Name: "spider_api_key", Required: true, Secret: true},
		},
		Methods: []MethodDef{
			{Name: "crawl", Description: "Crawl a URL and return its content as documents"},
		},
	}
}
