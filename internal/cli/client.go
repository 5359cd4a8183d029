package cli

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Client talks to a running corral serve.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

// addClientFlags registers the flags every API-backed command shares.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("server", "", "Server URL (default: the running corral serve)")
	cmd.PersistentFlags().String("token", "", "API token (default $CORRAL_AUTH_TOKEN or the local server's token)")
}

// connect resolves the server from --server, falling back to the local
// daemon state file.
func connect(cmd *cobra.Command) (*Client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if strings.TrimSpace(token) == "" {
		token = os.Getenv("CORRAL_AUTH_TOKEN")
	}

	server = strings.TrimSpace(server)
	if server == "" {
		state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
		if err != nil {
			return nil, fmt.Errorf("reading server state: %w", err)
		}
		if !running {
			return nil, fmt.Errorf("corral is not serving (start it with 'corral serve' or pass --server)")
		}
		server = stateURL(state)
		if strings.TrimSpace(token) == "" {
			token = state.Token
		}
	}
	return newClient(server, token), nil
}

func newClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(baseURL, "https://") {
		// Local servers use a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Token:      strings.TrimSpace(token),
	}
}

// do sends req as JSON and decodes the response into out when out is not
// nil. Any status outside okStatuses is an error carrying the server's
// message.
func (c *Client) do(method, path string, req, out any, okStatuses ...int) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(okStatuses) == 0 {
		okStatuses = []int{http.StatusOK}
	}
	for _, status := range okStatuses {
		if resp.StatusCode != status {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(respBody, &apiErr); err == nil && strings.TrimSpace(apiErr.Error) != "" {
		return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
