package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// API versions. Version 2 is the Jira Server/Data Center API with wiki-markup
// bodies; version 3 is the Cloud API with ADF bodies.
const (
	APIVersionServer = "2"
	APIVersionCloud  = "3"
)

const userAgent = "psync/1.0"

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Messages   []string
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("jira API %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("jira API %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the REST API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	APIVersion string
	HTTPClient *http.Client
}

// NewClient creates a new Jira client speaking the server API.
func NewClient(url, username, apiToken string) *Client {
	return &Client{
		URL:        strings.TrimSuffix(url, "/"),
		Username:   username,
		APIToken:   apiToken,
		APIVersion: APIVersionServer,
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Cloud reports whether the client talks to the cloud API.
func (c *Client) Cloud() bool {
	return c.APIVersion == APIVersionCloud
}

func (c *Client) api(format string, args ...any) string {
	version := c.APIVersion
	if version == "" {
		version = APIVersionServer
	}
	return c.URL + "/rest/api/" + version + fmt.Sprintf(format, args...)
}

// getJSON issues a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, apiURL string, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil, "")
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse Jira response: %w", err)
	}
	return nil
}

// sendJSON encodes in as the request body and decodes the response into out
// when both are non-empty.
func (c *Client) sendJSON(ctx context.Context, method, apiURL string, in, out any) error {
	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s request: %w", method, err)
		}
	}
	body, err := c.doRequest(ctx, method, apiURL, data, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse Jira response: %w", err)
	}
	return nil
}

// download fetches a raw resource, such as attachment content.
func (c *Client) download(ctx context.Context, resourceURL string) ([]byte, error) {
	if !strings.HasPrefix(resourceURL, "http://") && !strings.HasPrefix(resourceURL, "https://") {
		resourceURL = c.URL + "/" + strings.TrimPrefix(resourceURL, "/")
	}
	return c.doRequest(ctx, http.MethodGet, resourceURL, nil, "")
}

// upload posts a single file as multipart form data under the "file" field.
func (c *Client) upload(ctx context.Context, apiURL, filename string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, apiURL, buf.Bytes(), w.FormDataContentType())
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte, contentType string) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	// Required for attachment uploads, harmless elsewhere.
	req.Header.Set("X-Atlassian-Token", "no-check")
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(method, apiURL, resp.StatusCode, respBody)
	}

	return respBody, nil
}

func newAPIError(method, apiURL string, status int, body []byte) *APIError {
	e := &APIError{Method: method, URL: apiURL, StatusCode: status, Body: string(body)}
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Messages = append(e.Messages, payload.ErrorMessages...)
		for field, msg := range payload.Errors {
			e.Messages = append(e.Messages, field+": "+msg)
		}
	}
	return e
}

// setAuth sets the appropriate authentication header on the request.
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}

// ParseTimestamp parses Jira's timestamp format into a time.Time.
// Jira uses ISO 8601 with timezone: 2024-01-15T10:30:00.000+0000 or 2024-01-15T10:30:00.000Z
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// FormatTimestamp renders t the way Jira accepts it in request bodies.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000-0700")
}
