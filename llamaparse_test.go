package forage

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestLlamaParseSetup_Validate(t *testing.T) {
	setup := &LlamaParseSetup{APIKey: "llx-123"}
	if err := setup.Validate(); err != nil {
		t.Fatalf("Validate() with key returned error: %v", err)
	}
}

func TestLlamaParseSetup_Validate_MissingKey(t *testing.T) {
	err := (&LlamaParseSetup{}).Validate()
	if err == nil {
		t.Fatal("Validate() should fail without an API key")
	}
	var cfgErr *ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("Validate() error = %T, want *ConfigError", err)
	}
	if cfgErr.Field != "llamaparse_api_key" {
		t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, "llamaparse_api_key")
	}
}

func TestLlamaParseArguments_ApplyDefaults(t *testing.T) {
	args := &LlamaParseArguments{File: "aGVsbG8="}
	args.ApplyDefaults()

	if args.ResultFormat != LlamaParseFormatText {
		t.Errorf("ResultFormat = %q, want %q", args.ResultFormat, LlamaParseFormatText)
	}
	if args.NumWorkers == nil || *args.NumWorkers != 2 {
		t.Errorf("NumWorkers = %v, want 2", args.NumWorkers)
	}
	if args.Verbose == nil || !*args.Verbose {
		t.Errorf("Verbose = %v, want true", args.Verbose)
	}
	if args.Language != "en" {
		t.Errorf("Language = %q, want %q", args.Language, "en")
	}
	if args.Filename != "" {
		t.Errorf("Filename = %q, want empty (generated at dispatch, not here)", args.Filename)
	}
}

func TestLlamaParseArguments_ApplyDefaults_Idempotent(t *testing.T) {
	fromOmitted := &LlamaParseArguments{File: "aGVsbG8="}
	fromOmitted.ApplyDefaults()

	workers := uint8(2)
	verbose := true
	explicit := &LlamaParseArguments{
		File:         "aGVsbG8=",
		ResultFormat: LlamaParseFormatText,
		NumWorkers:   &workers,
		Verbose:      &verbose,
		Language:     "en",
	}
	explicit.ApplyDefaults()

	if !reflect.DeepEqual(fromOmitted, explicit) {
		t.Errorf("defaulting is not idempotent:\nomitted:  %+v\nexplicit: %+v", fromOmitted, explicit)
	}
}

func TestLlamaParseArguments_Validate_WorkerBounds(t *testing.T) {
	tests := []struct {
		workers uint8
		valid   bool
	}{
		{0, false},
		{1, true},
		{2, true},
		{3, true},
		{10, true},
		{11, false},
		{15, false},
	}

	for _, tt := range tests {
		workers := tt.workers
		args := &LlamaParseArguments{File: "aGVsbG8=", NumWorkers: &workers}
		args.ApplyDefaults()
		err := args.Validate()

		if tt.valid {
			if err != nil {
				t.Errorf("Validate() with num_workers=%d returned error: %v", tt.workers, err)
			}
			continue
		}

		if err == nil {
			t.Errorf("Validate() with num_workers=%d should fail", tt.workers)
			continue
		}
		var valErr *ValidationError
		if !asValidationError(err, &valErr) {
			t.Errorf("Validate() error = %T, want *ValidationError", err)
			continue
		}
		if valErr.Field != "num_workers" {
			t.Errorf("ValidationError.Field = %q, want %q", valErr.Field, "num_workers")
		}
		if valErr.FieldCode != ErrCodeOutOfRange {
			t.Errorf("ValidationError.FieldCode = %q, want %q", valErr.FieldCode, ErrCodeOutOfRange)
		}
	}
}

func TestLlamaParseArguments_Validate_MissingFile(t *testing.T) {
	args := &LlamaParseArguments{}
	args.ApplyDefaults()

	err := args.Validate()
	if err == nil {
		t.Fatal("Validate() should fail without file")
	}
	var valErr *ValidationError
	if !asValidationError(err, &valErr) {
		t.Fatalf("Validate() error = %T, want *ValidationError", err)
	}
	if valErr.Field != "file" {
		t.Errorf("ValidationError.Field = %q, want %q", valErr.Field, "file")
	}
	if valErr.FieldCode != ErrCodeMissingField {
		t.Errorf("ValidationError.FieldCode = %q, want %q", valErr.FieldCode, ErrCodeMissingField)
	}
}

func TestLlamaParseArguments_Validate_InvalidFormat(t *testing.T) {
	args := &LlamaParseArguments{File: "aGVsbG8=", ResultFormat: "html"}
	err := args.Validate()
	if err == nil {
		t.Fatal("Validate() should reject unknown result formats")
	}
	var valErr *ValidationError
	if !asValidationError(err, &valErr) {
		t.Fatalf("Validate() error = %T, want *ValidationError", err)
	}
	if valErr.Field != "result_format" {
		t.Errorf("ValidationError.Field = %q, want %q", valErr.Field, "result_format")
	}
	if valErr.FieldCode != ErrCodeInvalidEnum {
		t.Errorf("ValidationError.FieldCode = %q, want %q", valErr.FieldCode, ErrCodeInvalidEnum)
	}
}

func TestLlamaParseArguments_Scenario(t *testing.T) {
	// {file: "<base64>", num_workers: 3} validates with text/verbose/en defaults.
	var args LlamaParseArguments
	if err := json.Unmarshal([]byte(`{"file": "aGVsbG8=", "num_workers": 3}`), &args); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	args.ApplyDefaults()
	if err := args.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}

	if args.ResultFormat != "text" {
		t.Errorf("ResultFormat = %q, want %q", args.ResultFormat, "text")
	}
	if args.Verbose == nil || !*args.Verbose {
		t.Errorf("Verbose = %v, want true", args.Verbose)
	}
	if args.Language != "en" {
		t.Errorf("Language = %q, want %q", args.Language, "en")
	}
	if args.NumWorkers == nil || *args.NumWorkers != 3 {
		t.Errorf("NumWorkers = %v, want 3", args.NumWorkers)
	}
}

func TestNormalizeLlamaParseResponse(t *testing.T) {
	raw := json.RawMessage(`[
		{"text": "parsed content", "job_id": "job-1", "filename": "doc.pdf"}
	]`)

	out, err := NormalizeLlamaParseResponse(raw)
	if err != nil {
		t.Fatalf("NormalizeLlamaParseResponse() returned error: %v", err)
	}
	if len(out.Documents) != 1 {
		t.Fatalf("len(Documents) = %d, want 1", len(out.Documents))
	}
	doc := out.Documents[0]
	if doc.Content != "parsed content" {
		t.Errorf("Content = %q, want %q", doc.Content, "parsed content")
	}
	want := map[string]any{"job_id": "job-1", "filename": "doc.pdf"}
	if !reflect.DeepEqual(doc.Metadata, want) {
		t.Errorf("Metadata = %v, want %v", doc.Metadata, want)
	}
}

func TestNormalizeLlamaParseResponse_MissingText(t *testing.T) {
	_, err := NormalizeLlamaParseResponse(json.RawMessage(`[{"job_id": "job-1"}]`))
	if err == nil {
		t.Fatal("NormalizeLlamaParseResponse() should fail when text is absent")
	}
	var normErr *NormalizationError
	if !asNormalizationError(err, &normErr) {
		t.Fatalf("error = %T, want *NormalizationError", err)
	}
	if normErr.Field != "text" {
		t.Errorf("NormalizationError.Field = %q, want %q", normErr.Field, "text")
	}
}

func TestNormalizeLlamaParseResponse_Malformed(t *testing.T) {
	_, err := NormalizeLlamaParseResponse(json.RawMessage(`"just a string"`))
	if err == nil {
		t.Fatal("NormalizeLlamaParseResponse() should fail on non-object payloads")
	}
	var normErr *NormalizationError
	if !asNormalizationError(err, &normErr) {
		t.Fatalf("error = %T, want *NormalizationError", err)
	}
	if normErr.FieldCode != ErrCodeMalformedResponse {
		t.Errorf("FieldCode = %q, want %q", normErr.FieldCode, ErrCodeMalformedResponse)
	}
}
