package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/miradorstack/mirador-aha/internal/utils"
)

const maxErrorBody = 512

// jsonClient performs JSON requests against one upstream base URL.
type jsonClient struct {
	name       string
	baseURL    string
	headers    http.Header
	httpClient *http.Client
}

func (c *jsonClient) resolve(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// do sends payload (if any) and decodes a response with the expected status into out.
func (c *jsonClient) do(ctx context.Context, method, p string, payload, out any, expect int) error {
	endpoint := c.resolve(p)
	if endpoint == "" {
		return utils.NewAppError(c.name, "base URL not configured", nil)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(c.name, method+" "+p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expect {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return utils.NewStatusError(c.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}
