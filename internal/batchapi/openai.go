package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultCompletionWindow is the service's only supported window.
	DefaultCompletionWindow = "24h"

	batchEndpoint = "/v1/chat/completions"
)

// OpenAIClient implements Service against the OpenAI Batch API.
type OpenAIClient struct {
	baseURL          string
	apiKey           string
	completionWindow string
	httpClient       *http.Client
}

// NewOpenAIClient creates a Batch API client. Empty baseURL and
// completionWindow fall back to the defaults.
func NewOpenAIClient(baseURL, apiKey, completionWindow string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if completionWindow == "" {
		completionWindow = DefaultCompletionWindow
	}
	return &OpenAIClient{
		baseURL:          baseURL,
		apiKey:           apiKey,
		completionWindow: completionWindow,
		httpClient:       &http.Client{Timeout: 5 * time.Minute},
	}
}

type fileResponse struct {
	ID string `json:"id"`
}

type batchResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit uploads the payload as a batch input file and creates a job
// pointing at it.
func (c *OpenAIClient) Submit(ctx context.Context, name string, payload []byte) (SubmitResult, error) {
	fileID, err := c.uploadFile(ctx, name, payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("upload input file: %w", err)
	}

	body := map[string]any{
		"input_file_id":     fileID,
		"endpoint":          batchEndpoint,
		"completion_window": c.completionWindow,
		"metadata":          map[string]string{"description": name},
	}
	var batch batchResponse
	if err := c.postJSON(ctx, c.baseURL+"/batches", body, &batch); err != nil {
		return SubmitResult{}, fmt.Errorf("create batch: %w", err)
	}

	return SubmitResult{JobID: batch.ID, InputFileID: fileID}, nil
}

// Status fetches the current state of a job.
func (c *OpenAIClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+jobID, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("create request: %w", err)
	}

	var batch batchResponse
	if err := c.do(req, &batch); err != nil {
		return JobStatus{}, fmt.Errorf("get batch %s: %w", jobID, err)
	}

	return JobStatus{
		State:        batch.Status,
		OutputFileID: batch.OutputFileID,
		ErrorFileID:  batch.ErrorFileID,
	}, nil
}

// FetchResults downloads a result file's raw content.
func (c *OpenAIClient) FetchResults(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return content, nil
}

func (c *OpenAIClient) uploadFile(ctx context.Context, name string, payload []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", name+".jsonl")
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file fileResponse
	if err := c.do(req, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, url string, body map[string]any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *OpenAIClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
