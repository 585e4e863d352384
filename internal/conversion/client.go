// Package conversion is the adapter for the external raster-to-vector
// service. It sends image bytes plus a style token and returns the vector
// document, classifying every failure as Timeout, Unreachable or Rejected.
package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnreachable ErrorKind = "unreachable"
	KindRejected    ErrorKind = "rejected"
)

// Error is a classified conversion failure. The worker records Detail on the
// job; it never retries.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("conversion %s: %s", e.Kind, e.Detail)
}

type Metrics struct {
	PathCount   int     `json:"path_count"`
	TotalTimeMS int64   `json:"total_time_ms"`
	FileSizeKB  float64 `json:"file_size_kb"`
}

type Result struct {
	SVG      string   `json:"svg"`
	Warnings []string `json:"warnings"`
	Metrics  Metrics  `json:"metrics"`
}

const DefaultTimeout = 60 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// wire shape of the conversion service response
type convertResponse struct {
	Success bool    `json:"success"`
	Data    *Result `json:"data"`
	Message string  `json:"message"`
}

// Convert sends the image and style to the conversion service and returns
// the vector output. The call is bounded by the client's timeout budget; on
// expiry the returned error has Kind=Timeout.
func (c *Client) Convert(ctx context.Context, image io.Reader, filename, style string) (*Result, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := mw.WriteField("style", style); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-svg", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, c.timeout)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Detail: "reading response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:   KindRejected,
			Detail: rejectionDetail(resp.StatusCode, respBody),
		}
	}

	var parsed convertResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: KindRejected, Detail: "malformed response: " + err.Error()}
	}
	if !parsed.Success || parsed.Data == nil || parsed.Data.SVG == "" {
		detail := parsed.Message
		if detail == "" {
			detail = "conversion service returned no vector output"
		}
		return nil, &Error{Kind: KindRejected, Detail: detail}
	}

	return parsed.Data, nil
}

func classifyTransportError(err error, budget time.Duration) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Kind:   KindTimeout,
			Detail: fmt.Sprintf("conversion timed out after %s", budget),
		}
	}
	return &Error{Kind: KindUnreachable, Detail: err.Error()}
}

// rejectionDetail prefers the service's own message over a bare status code.
func rejectionDetail(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	return fmt.Sprintf("conversion service returned status %d", status)
}
