package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	// Match production: the root command in cmd/forage sets SilenceUsage.
	cmd.SilenceUsage = true
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd_ValidFile(t *testing.T) {
	path := writeTempFile(t, "spider.yaml", `
provider: spider
setup:
  spider_api_key: sk-test
arguments:
  url: https://example.com
`)

	out, err := execute(t, NewValidateCmd(), path)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Valid!") {
		t.Errorf("output = %q, want Valid!", out)
	}
}

func TestValidateCmd_InvalidArguments(t *testing.T) {
	path := writeTempFile(t, "spider.json", `{
  "provider": "spider",
  "arguments": {"url": "https://example.com", "mode": "crawl"}
}`)

	out, err := execute(t, NewValidateCmd(), path)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitValidation {
		t.Fatalf("err = %v, want ExitError(%d)", err, exitValidation)
	}
	if !strings.Contains(out, "INVALID_ENUM") {
		t.Errorf("output = %q, want INVALID_ENUM diagnostic", out)
	}
}

func TestValidateCmd_JSONFormat(t *testing.T) {
	path := writeTempFile(t, "llama.yaml", `
provider: llama_parse
arguments:
  num_workers: 0
`)

	out, err := execute(t, NewValidateCmd(), path, "--format", "json")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want ExitError", err)
	}

	var diags []Diagnostic
	if err := json.Unmarshal([]byte(out), &diags); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(diags) != 1 {
		t.Fatalf("len(diags) = %d, want 1", len(diags))
	}
	// Missing file fails before the worker bound check.
	if diags[0].Code != "MISSING_FIELD" || diags[0].Field != "file" {
		t.Errorf("diagnostic = %+v, want MISSING_FIELD on file", diags[0])
	}
}

func TestValidateCmd_FileNotFound(t *testing.T) {
	_, err := execute(t, NewValidateCmd(), filepath.Join(t.TempDir(), "missing.yaml"))
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitFileNotFound {
		t.Fatalf("err = %v, want ExitError(%d)", err, exitFileNotFound)
	}
}

func TestProvidersCmd_ListsBuiltins(t *testing.T) {
	out, err := execute(t, NewProvidersCmd())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(spider)") || !strings.Contains(out, "(llama_parse)") {
		t.Errorf("output missing builtin providers:\n%s", out)
	}
}

func TestProvidersCmd_SingleProviderJSON(t *testing.T) {
	out, err := execute(t, NewProvidersCmd(), "spider", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}

	var cards []map[string]any
	if err := json.Unmarshal([]byte(out), &cards); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(cards) != 1 || cards[0]["provider"] != "spider" {
		t.Errorf("cards = %v, want single spider card", cards)
	}
}

func TestProvidersCmd_Unknown(t *testing.T) {
	_, err := execute(t, NewProvidersCmd(), "notion")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitValidation {
		t.Fatalf("err = %v, want ExitError(%d)", err, exitValidation)
	}
}

func TestFetchCmd_SpiderEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crawl" {
			t.Errorf("path = %q, want /crawl", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"page_content":"hello page","url":"https://example.com"}]`))
	}))
	defer upstream.Close()

	path := writeTempFile(t, "spider.yaml", `
provider: spider
setup:
  spider_api_key: sk-test
arguments:
  url: https://example.com
`)

	out, err := execute(t, NewFetchCmd(), path, "--spider-base-url", upstream.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello page") {
		t.Errorf("output missing document content:\n%s", out)
	}
}

func TestFetchCmd_MissingCredentials(t *testing.T) {
	path := writeTempFile(t, "spider.yaml", `
provider: spider
arguments:
  url: https://example.com
`)

	_, err := execute(t, NewFetchCmd(), path)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitCredential {
		t.Fatalf("err = %v, want ExitError(%d)", err, exitCredential)
	}
}
