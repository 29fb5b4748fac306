// Command saviourctl is the operator CLI for a SAVIOUR controller: it
// drives the same internal/api HTTP surface the operator web view uses,
// the way the teacher's internal/cli package drives its daemon's local
// control socket. Structure follows internal/cli/root.go — a package-level
// rootCmd plus one file per subcommand, each registering itself from init.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is the narrow HTTP surface every subcommand needs: the
// controller's base URL and bearer token, resolved once in root.go from
// flags/environment and shared by every subcommand via newClient().
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: resolveAddr(),
		token:   resolveToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(data, &errBody); jsonErr == nil && errBody.Error != "" {
			if errBody.Detail != "" {
				return fmt.Errorf("%s %s: %s (%s)", method, path, errBody.Error, errBody.Detail)
			}
			return fmt.Errorf("%s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(path string, out any) error  { return c.do(http.MethodGet, path, nil, out) }
func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
func (c *apiClient) put(path string, body, out any) error {
	return c.do(http.MethodPut, path, body, out)
}
