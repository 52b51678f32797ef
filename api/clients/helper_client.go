package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/http2"

	"github.com/ruteri/mpc-helper/api"
	"github.com/ruteri/mpc-helper/config"
	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/streams"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// ResponseError is returned when a helper answers with a non-2xx status.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.Body)
}

// HelperClient talks to one helper. Helpers use it to reach their peers, with
// origin set to their own identity; report collectors leave origin empty.
//
// Requests carry no timeout of their own; callers bound them through ctx.
type HelperClient struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// NewHelperClient creates a client for the helper at baseURL.
//
// Parameters:
//   - baseURL: The helper's URL (e.g., "https://helper1.example.com:3000")
//   - origin: Identity sent in the X-Origin header, empty for report collectors
//   - httpClient: Client to use (optional, defaults to an HTTP/2 client without TLS identity)
func NewHelperClient(baseURL, origin string, httpClient ...*http.Client) *HelperClient {
	c := &HelperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		origin:  origin,
	}
	if len(httpClient) > 0 && httpClient[0] != nil {
		c.httpClient = httpClient[0]
	} else {
		c.httpClient = NewHTTPClient(config.DefaultClientConfig(), nil)
	}
	return c
}

// NewHTTPClient builds the HTTP client for cfg. With HTTP/2 and no tlsConfig
// the client speaks cleartext HTTP/2 (h2c) to http:// URLs.
func NewHTTPClient(cfg config.ClientConfig, tlsConfig *tls.Config) *http.Client {
	if !cfg.UseHTTP2() {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		transport.DisableKeepAlives = true
		return &http.Client{Transport: transport}
	}

	transport := &http2.Transport{
		TLSClientConfig: tlsConfig,
		ReadIdleTimeout: cfg.PingInterval(),
	}
	if tlsConfig == nil {
		transport.AllowHTTP = true
		transport.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	return &http.Client{Transport: transport}
}

func (c *HelperClient) BaseURL() string { return c.baseURL }

func (c *HelperClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.origin != "" {
		req.Header.Set(api.OriginHeader, c.origin)
	}
	return req, nil
}

// do sends req and returns the response body of a 2xx response.
func (c *HelperClient) do(req *http.Request, what string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ResponseError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", what, err)
	}
	return body, nil
}

func (c *HelperClient) postJSON(ctx context.Context, path string, v any, what string) ([]byte, error) {
	reqJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", interfaces.ContentTypeJSON)
	return c.do(req, what)
}

// Step streams data to the peer as the records of (queryID, g). It returns once
// the peer has drained the stream.
func (c *HelperClient) Step(ctx context.Context, queryID interfaces.QueryID, g gate.Gate, data interfaces.BodyStream) error {
	req, err := c.newRequest(ctx, http.MethodPost, api.StepPath(queryID, g), streams.NewReader(ctx, data))
	if err != nil {
		data.Close()
		return err
	}
	req.Header.Set("Content-Type", interfaces.ContentTypeBinary)
	_, err = c.do(req, "step")
	return err
}

// PrepareQuery forwards a query created by the leader.
func (c *HelperClient) PrepareQuery(ctx context.Context, prepare interfaces.PrepareQuery) error {
	_, err := c.postJSON(ctx, api.QueryPath(prepare.QueryID), prepare, "prepare query")
	return err
}

// CreateQuery asks the leader helper to create a query and prepare its peers.
func (c *HelperClient) CreateQuery(ctx context.Context, cfg interfaces.QueryConfig) (interfaces.QueryID, error) {
	body, err := c.postJSON(ctx, api.CreateQueryPath(), cfg, "create query")
	if err != nil {
		return "", err
	}
	var result interfaces.CreateQueryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse create query response: %w", err)
	}
	return result.QueryID, nil
}

// QueryInput uploads this helper's share of the query input.
func (c *HelperClient) QueryInput(ctx context.Context, queryID interfaces.QueryID, input io.Reader) error {
	req, err := c.newRequest(ctx, http.MethodPost, api.QueryInputPath(queryID), input)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", interfaces.ContentTypeBinary)
	_, err = c.do(req, "query input")
	return err
}

func (c *HelperClient) QueryStatus(ctx context.Context, queryID interfaces.QueryID) (interfaces.QueryStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, api.QueryPath(queryID), nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req, "query status")
	if err != nil {
		return "", err
	}
	var result interfaces.QueryStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse status response: %w", err)
	}
	return result.Status, nil
}

// CompleteQuery waits for the query to finish and returns this helper's output.
func (c *HelperClient) CompleteQuery(ctx context.Context, queryID interfaces.QueryID) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, api.CompleteQueryPath(queryID), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, "complete query")
}

func (c *HelperClient) KillQuery(ctx context.Context, queryID interfaces.QueryID) error {
	req, err := c.newRequest(ctx, http.MethodPost, api.KillQueryPath(queryID), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, "kill query")
	return err
}

// Echo checks connectivity; params are sent as query parameters and reflected back.
func (c *HelperClient) Echo(ctx context.Context, params map[string]string) (*api.EchoResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, api.EchoPath, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	body, err := c.do(req, "echo")
	if err != nil {
		return nil, err
	}
	var result api.EchoResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse echo response: %w", err)
	}
	return &result, nil
}
