package invoke

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copseworks/forage"
)

// Job states reported by the LlamaParse API.
const (
	llamaParseJobSuccess = "SUCCESS"
	llamaParseJobError   = "ERROR"
)

// LlamaParseClient calls the LlamaParse document-parsing API. A parse is
// three requests: upload the file, poll the job until it settles, then
// fetch the result in the requested format.
type LlamaParseClient struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

type llamaParseJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Parse uploads the document, waits for the job to complete, and
// normalizes the result. A missing filename is generated here so the
// validation layer stays deterministic.
func (c *LlamaParseClient) Parse(ctx context.Context, setup *forage.LlamaParseSetup, args *forage.LlamaParseArguments) (forage.FetchOutput, error) {
	payload, err := base64.StdEncoding.DecodeString(args.File)
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("llama_parse: decode base64 file: %w", err)
	}

	filename := strings.TrimSpace(args.Filename)
	if filename == "" {
		filename = uuid.New().String()
	}

	job, err := c.upload(ctx, setup.APIKey, filename, payload, args)
	if err != nil {
		return forage.FetchOutput{}, err
	}

	if err := c.waitForJob(ctx, setup.APIKey, job.ID); err != nil {
		return forage.FetchOutput{}, err
	}

	return c.fetchResult(ctx, setup.APIKey, job.ID, filename, args.ResultFormat)
}

func (c *LlamaParseClient) upload(ctx context.Context, apiKey, filename string, payload []byte, args *forage.LlamaParseArguments) (llamaParseJob, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return llamaParseJob{}, fmt.Errorf("llama_parse: build upload form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return llamaParseJob{}, fmt.Errorf("llama_parse: write upload payload: %w", err)
	}

	fields := map[string]string{
		"language": args.Language,
	}
	if args.Verbose != nil {
		fields["verbose"] = strconv.FormatBool(*args.Verbose)
	}
	if args.NumWorkers != nil {
		fields["num_workers"] = strconv.Itoa(int(*args.NumWorkers))
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return llamaParseJob{}, fmt.Errorf("llama_parse: write upload field %q: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return llamaParseJob{}, fmt.Errorf("llama_parse: finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/parsing/upload", &body)
	if err != nil {
		return llamaParseJob{}, fmt.Errorf("llama_parse: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	var job llamaParseJob
	if err := c.doJSON(req, &job); err != nil {
		return llamaParseJob{}, err
	}
	if strings.TrimSpace(job.ID) == "" {
		return llamaParseJob{}, fmt.Errorf("llama_parse: upload response has no job id")
	}
	return job, nil
}

// waitForJob polls the job status until it reaches a terminal state or
// the context is cancelled.
func (c *LlamaParseClient) waitForJob(ctx context.Context, apiKey, jobID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/api/parsing/job/"+jobID, nil)
		if err != nil {
			return fmt.Errorf("llama_parse: build status request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		var job llamaParseJob
		if err := c.doJSON(req, &job); err != nil {
			return err
		}

		switch strings.ToUpper(job.Status) {
		case llamaParseJobSuccess:
			return nil
		case llamaParseJobError:
			message := strings.TrimSpace(job.Error)
			if message == "" {
				message = "job failed"
			}
			return fmt.Errorf("llama_parse: job %s failed: %s", jobID, message)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llama_parse: waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *LlamaParseClient) fetchResult(ctx context.Context, apiKey, jobID, filename, format string) (forage.FetchOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/parsing/job/"+jobID+"/result/"+format, nil)
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("llama_parse: build result request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	var result map[string]any
	if err := c.doJSON(req, &result); err != nil {
		return forage.FetchOutput{}, err
	}

	// The API keys the content field by format; the contract expects
	// "text". Re-key before normalizing so markdown results flow
	// through the same path.
	content, ok := result[format]
	if ok && format != forage.LlamaParseFormatText {
		delete(result, format)
		result["text"] = content
	}
	result["job_id"] = jobID
	result["filename"] = filename

	raw, err := json.Marshal([]map[string]any{result})
	if err != nil {
		return forage.FetchOutput{}, fmt.Errorf("llama_parse: encode result items: %w", err)
	}
	return forage.NormalizeLlamaParseResponse(raw)
}

// doJSON executes the request and decodes a JSON body into out,
// translating non-2xx statuses into errors.
func (c *LlamaParseClient) doJSON(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llama_parse: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llama_parse: read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("llama_parse: %s returned status %d: %s", req.URL.Path, resp.StatusCode, message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("llama_parse: decode response: %w", err)
	}
	return nil
}
