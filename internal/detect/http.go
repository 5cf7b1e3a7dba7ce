package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eyeline/internal/landmark"
)

// HTTPClient speaks the detection service's REST protocol.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Submit uploads images as the multipart field "images" and returns the job id.
func (c *HTTPClient) Submit(ctx context.Context, images []landmark.Image) (string, error) {
	if err := checkImages(images); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, img := range images {
		part, err := mw.CreateFormFile("images", img.Name)
		if err != nil {
			return "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return "", fmt.Errorf("write form file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload_images", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.do(req)
	if err != nil {
		return "", err
	}
	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: submit response has no job_id", ErrTransport)
	}
	return resp.JobID, nil
}

// Poll fetches the job's progress once.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (Progress, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/get_progress/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Progress{}, err
	}
	data, err := c.do(req)
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("%w: decode progress: %v", ErrTransport, err)
	}
	return p, nil
}

// Fetch retrieves the landmark records of a finished job.
func (c *HTTPClient) Fetch(ctx context.Context, jobID string) ([]landmark.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/get_info/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeFetch(data)
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportErr(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr("read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrTransport, req.Method, req.URL.Path, resp.StatusCode, msg)
	}
	return data, nil
}
