package forage

import (
	"encoding/json"
	"strings"
)

// Result formats the LlamaParse API can produce.
const (
	LlamaParseFormatText     = "text"
	LlamaParseFormatMarkdown = "markdown"

	// llamaParseContentField is the content field name on raw LlamaParse items.
	llamaParseContentField = "text"
)

// NumWorkers bounds, inclusive.
const (
	LlamaParseMinWorkers = 1
	LlamaParseMaxWorkers = 10

	llamaParseDefaultWorkers  = uint8(2)
	llamaParseDefaultVerbose  = true
	llamaParseDefaultLanguage = "en"
)

// LlamaParseSetup holds the credentials for the LlamaParse document
// parsing API.
type LlamaParseSetup struct {
	APIKey string `json:"llamaparse_api_key"`
}

// Provider returns the llama_parse provider tag.
func (s *LlamaParseSetup) Provider() Provider {
	return ProviderLlamaParse
}

// Validate checks that the API key is present and non-empty.
func (s *LlamaParseSetup) Validate() error {
	if s == nil || strings.TrimSpace(s.APIKey) == "" {
		return newConfigError(ProviderLlamaParse, "llamaparse_api_key", "llamaparse_api_key is required")
	}
	return nil
}

// LlamaParseArguments is the request payload for a LlamaParse job.
// File carries the document as a base64-encoded string. NumWorkers and
// Verbose are pointers so an omitted field is distinguishable from an
// explicit zero value; defaults are substituted by ApplyDefaults.
// A missing Filename is generated at dispatch time, not here, so that
// default substitution stays idempotent.
type LlamaParseArguments struct {
	File         string `json:"file"`
	Filename     string `json:"filename,omitempty"`
	ResultFormat string `json:"result_format,omitempty"`
	NumWorkers   *uint8 `json:"num_workers,omitempty"`
	Verbose      *bool  `json:"verbose,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Provider returns the llama_parse provider tag.
func (a *LlamaParseArguments) Provider() Provider {
	return ProviderLlamaParse
}

// ApplyDefaults substitutes the declared defaults for omitted fields.
func (a *LlamaParseArguments) ApplyDefaults() {
	if a.ResultFormat == "" {
		a.ResultFormat = LlamaParseFormatText
	}
	if a.NumWorkers == nil {
		workers := llamaParseDefaultWorkers
		a.NumWorkers = &workers
	}
	if a.Verbose == nil {
		verbose := llamaParseDefaultVerbose
		a.Verbose = &verbose
	}
	if a.Language == "" {
		a.Language = llamaParseDefaultLanguage
	}
}

// Validate checks the required file payload, the result format enum,
// and the worker count bounds.
func (a *LlamaParseArguments) Validate() error {
	if strings.TrimSpace(a.File) == "" {
		return newValidationError(ProviderLlamaParse, "file", ErrCodeMissingField, "file is required")
	}
	switch a.ResultFormat {
	case LlamaParseFormatText, LlamaParseFormatMarkdown:
	default:
		return newValidationError(ProviderLlamaParse, "result_format", ErrCodeInvalidEnum,
			"result_format %q is not supported; must be %q or %q",
			a.ResultFormat, LlamaParseFormatText, LlamaParseFormatMarkdown)
	}
	if a.NumWorkers != nil {
		workers := *a.NumWorkers
		if workers < LlamaParseMinWorkers || workers > LlamaParseMaxWorkers {
			return newValidationError(ProviderLlamaParse, "num_workers", ErrCodeOutOfRange,
				"num_workers %d is out of range [%d,%d]", workers, LlamaParseMinWorkers, LlamaParseMaxWorkers)
		}
	}
	return nil
}

// NormalizeLlamaParseResponse maps a raw LlamaParse response into the
// common document shape. Each raw item's text becomes the document
// content; every other field is preserved as metadata.
func NormalizeLlamaParseResponse(raw json.RawMessage) (FetchOutput, error) {
	return normalizeItems(ProviderLlamaParse, raw, llamaParseContentField)
}

func llamaParseCard() ProviderCard {
	return ProviderCard{
		Provider:    ProviderLlamaParse,
		DisplayName: "LlamaParse",
		Homepage:    "https://www.llamaindex.ai/",
		Docs:        "https://docs.cloud.llamaindex.ai/llamaparse/getting_started",
		Icon:        "https://www.llamaindex.ai/favicon.ico",
		SetupFields: []SetupField{
			{Name: "llamaparse_api_key", Required: true, Secret: true},
		},
		Methods: []MethodDef{
			{Name: "parse", Description: "Parse a document into text or markdown documents"},
		},
	}
}
