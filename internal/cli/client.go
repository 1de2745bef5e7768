package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ScanURL submits a link for scanning.
func (c *Client) ScanURL(ctx context.Context, rawURL string) (*scanner.ScanResult, error) {
	raw, err := c.DoJSON(ctx, http.MethodPost, "/api/scan", map[string]string{"url": rawURL})
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}

// ScanText submits pasted message text for scanning.
func (c *Client) ScanText(ctx context.Context, name, text string) (*scanner.ScanResult, error) {
	raw, err := c.DoJSON(ctx, http.MethodPost, "/api/scan", map[string]string{"text": text, "name": name})
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}

// ScanFile uploads file contents. An empty mimeType lets the server detect it.
func (c *Client) ScanFile(ctx context.Context, name, mimeType string, data []byte) (*scanner.ScanResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if mimeType != "" {
		if err := mw.WriteField("mime_type", mimeType); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/scan/file", &body)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}

// Scan fetches a stored result by id.
func (c *Client) Scan(ctx context.Context, id string) (*scanner.ScanResult, error) {
	raw, err := c.DoJSON(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}

// Scans lists stored results, newest first.
func (c *Client) Scans(ctx context.Context, limit int) ([]scanner.ScanResult, error) {
	path := "/api/scans"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	raw, err := c.DoJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []scanner.ScanResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode scans: %w", err)
	}
	return out, nil
}

// UpdateFeeds asks the daemon to refresh threat intelligence now.
func (c *Client) UpdateFeeds(ctx context.Context) ([]byte, error) {
	return c.DoJSON(ctx, http.MethodPost, "/api/feeds/update", nil)
}

func (c *Client) DoJSON(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) DoText(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	return c.do(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func decodeResult(raw []byte) (*scanner.ScanResult, error) {
	var res scanner.ScanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	return &res, nil
}
