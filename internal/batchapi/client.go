// Package batchapi is a thin client for an OpenAI-compatible batch
// service: file upload, batch creation, status reads, and artifact
// download. It knows nothing about the ledger.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"termscan/internal/httputil"
)

// ChatEndpoint is the per-line target endpoint recorded in every manifest
// request and in the batch registration.
const ChatEndpoint = "/v1/chat/completions"

// Client talks to the remote batch service. Transient failures are retried
// through httputil before any method returns.
type Client struct {
	baseURL string
	apiKey  string
	retry   httputil.RetryConfig
}

// New returns a client for the service at baseURL. The timeout bounds each
// HTTP attempt including the body, so it must leave room for manifest
// uploads and artifact downloads, not just the JSON calls.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	retry := httputil.DefaultRetryConfig()
	retry.Client = &http.Client{Timeout: timeout}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		retry:   retry,
	}
}

// UploadFile streams the manifest at path to the service with purpose
// "batch" and returns the remote file id. The file is reopened on every
// retry attempt so the body is always complete.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	resp, err := httputil.Do(ctx, func() (*http.Request, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			defer f.Close()
			err := writeUploadBody(mw, f, filepath.Base(path))
			if cerr := mw.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/files", pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, c.retry)
	if err != nil {
		return "", fmt.Errorf("upload manifest: %w", err)
	}

	var out fileObject
	if err := decodeResponse(resp, "upload manifest", &out); err != nil {
		return "", err
	}
	slog.Debug("batchapi: manifest uploaded", "file_id", out.ID, "bytes", out.Bytes)
	return out.ID, nil
}

func writeUploadBody(mw *multipart.Writer, f *os.File, name string) error {
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// CreateBatchParams registers a remote job over an uploaded manifest.
type CreateBatchParams struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CreateBatch registers a new remote job and returns its initial state.
func (c *Client) CreateBatch(ctx context.Context, p CreateBatchParams) (*Job, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode create batch: %w", err)
	}
	resp, err := c.doJSON(ctx, "POST", c.baseURL+"/batches", payload)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	var job Job
	if err := decodeResponse(resp, "create batch", &job); err != nil {
		return nil, err
	}
	slog.Debug("batchapi: batch created", "remote_id", job.ID, "status", job.Status)
	return &job, nil
}

// GetBatch reads the current remote state of a job.
func (c *Client) GetBatch(ctx context.Context, remoteID string) (*Job, error) {
	resp, err := c.doJSON(ctx, "GET", c.baseURL+"/batches/"+remoteID, nil)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", remoteID, err)
	}

	var job Job
	if err := decodeResponse(resp, "get batch "+remoteID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FetchFileContent opens a download stream for a remote file. The caller
// owns the returned body and must close it.
func (c *Client) FetchFileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.doJSON(ctx, "GET", c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("fetch file %s: batch API %d: %s", fileID, resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	return httputil.Do(ctx, func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, c.retry)
}

func decodeResponse(resp *http.Response, op string, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: batch API %d: %s", op, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Job is the remote service's view of a batch.
type Job struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	InputFileID   string            `json:"input_file_id"`
	OutputFileID  string            `json:"output_file_id"`
	ErrorFileID   string            `json:"error_file_id"`
	CreatedAt     int64             `json:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RequestCounts RequestCounts     `json:"request_counts"`
	Errors        *JobErrors        `json:"errors,omitempty"`
}

// RequestCounts is the remote per-batch progress counter set.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobErrors is the error envelope attached to failed jobs.
type JobErrors struct {
	Data []JobError `json:"data"`
}

// JobError is one validation or processing error reported by the service.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    *int   `json:"line,omitempty"`
}

type fileObject struct {
	ID    string `json:"id"`
	Bytes int64  `json:"bytes"`
}
