package forage

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestIntegrationDef_UnmarshalJSON_Spider(t *testing.T) {
	data := []byte(`{
		"provider": "spider",
		"method": "crawl",
		"setup": {"spider_api_key": "sk-123"},
		"arguments": {"url": "https://example.com", "mode": "scrape"}
	}`)

	var def IntegrationDef
	if err := json.Unmarshal(data, &def); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if def.Provider != ProviderSpider {
		t.Errorf("Provider = %q, want %q", def.Provider, ProviderSpider)
	}
	if def.Method != "crawl" {
		t.Errorf("Method = %q, want %q", def.Method, "crawl")
	}
	setup, ok := def.Setup.(*SpiderSetup)
	if !ok {
		t.Fatalf("Setup = %T, want *SpiderSetup", def.Setup)
	}
	if setup.APIKey != "sk-123" {
		t.Errorf("Setup.APIKey = %q, want %q", setup.APIKey, "sk-123")
	}
	args, ok := def.Arguments.(*SpiderArguments)
	if !ok {
		t.Fatalf("Arguments = %T, want *SpiderArguments", def.Arguments)
	}
	if args.URL != "https://example.com" {
		t.Errorf("Arguments.URL = %q, want %q", args.URL, "https://example.com")
	}
}

func TestIntegrationDef_UnmarshalJSON_LlamaParse(t *testing.T) {
	data := []byte(`{
		"provider": "llama_parse",
		"arguments": {"file": "aGVsbG8=", "num_workers": 3}
	}`)

	var def IntegrationDef
	if err := json.Unmarshal(data, &def); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if def.Setup != nil {
		t.Errorf("Setup = %v, want nil when omitted", def.Setup)
	}
	args, ok := def.Arguments.(*LlamaParseArguments)
	if !ok {
		t.Fatalf("Arguments = %T, want *LlamaParseArguments", def.Arguments)
	}
	if args.NumWorkers == nil || *args.NumWorkers != 3 {
		t.Errorf("Arguments.NumWorkers = %v, want 3", args.NumWorkers)
	}
}

func TestIntegrationDef_UnmarshalJSON_UnknownProvider(t *testing.T) {
	data := []byte(`{"provider": "firecrawl"}`)

	var def IntegrationDef
	err := json.Unmarshal(data, &def)
	if err == nil {
		t.Fatal("Unmarshal should reject unknown provider tags")
	}
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestIntegrationDef_MarshalRoundTrip(t *testing.T) {
	workers := uint8(4)
	original := IntegrationDef{
		Provider: ProviderLlamaParse,
		Method:   "parse",
		Setup:    &LlamaParseSetup{APIKey: "llx-1"},
		Arguments: &LlamaParseArguments{
			File:       "aGVsbG8=",
			NumWorkers: &workers,
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded IntegrationDef
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Provider != original.Provider || decoded.Method != original.Method {
		t.Errorf("round trip changed header: %+v", decoded)
	}
	args, ok := decoded.Arguments.(*LlamaParseArguments)
	if !ok {
		t.Fatalf("Arguments = %T, want *LlamaParseArguments", decoded.Arguments)
	}
	if args.NumWorkers == nil || *args.NumWorkers != 4 {
		t.Errorf("NumWorkers = %v, want 4", args.NumWorkers)
	}
}

func TestIntegrationDef_Validate(t *testing.T) {
	def := IntegrationDef{
		Provider:  ProviderSpider,
		Setup:     &SpiderSetup{APIKey: "sk-123"},
		Arguments: &SpiderArguments{URL: "https://example.com"},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}

	// Defaults applied during validation.
	if args := def.Arguments.(*SpiderArguments); args.Mode != SpiderModeScrape {
		t.Errorf("Mode = %q, want defaulted %q", args.Mode, SpiderModeScrape)
	}
}

func TestIntegrationDef_Validate_ProviderMismatch(t *testing.T) {
	def := IntegrationDef{
		Provider: ProviderSpider,
		Setup:    &LlamaParseSetup{APIKey: "llx-1"},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("Validate() should reject a setup from a different provider")
	}
}

func TestIntegrationDef_Validate_FailsFast(t *testing.T) {
	workers := uint8(15)
	def := IntegrationDef{
		Provider:  ProviderLlamaParse,
		Setup:     &LlamaParseSetup{APIKey: "llx-1"},
		Arguments: &LlamaParseArguments{File: "aGVsbG8=", NumWorkers: &workers},
	}

	err := def.Validate()
	var valErr *ValidationError
	if !asValidationError(err, &valErr) {
		t.Fatalf("Validate() error = %T, want *ValidationError", err)
	}
	if valErr.Field != "num_workers" {
		t.Errorf("ValidationError.Field = %q, want %q", valErr.Field, "num_workers")
	}
}
