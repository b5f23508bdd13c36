package graphauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MaxBatchRequests is the downstream API's fixed ceiling on sub-requests
// per batch call. Not configurable.
const MaxBatchRequests = 20

// batchEndpoint is the API's batching endpoint, relative to the version
// segment.
const batchEndpoint = "/$batch"

// BatchRequest is one sub-request of a batch call. URL is relative to the
// version segment, like the endpoint argument of Get.
type BatchRequest struct {
	// ID correlates the sub-request with its response. Assigned
	// automatically when left empty.
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	DependsOn []string          `json:"dependsOn,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// BatchResponseItem is the outcome of one sub-request.
type BatchResponseItem struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// BatchResponse is the resource API's answer to a batch call.
type BatchResponse struct {
	Responses []BatchResponseItem `json:"responses"`
}

// ByID returns the response for the sub-request with the given id, or nil.
func (b *BatchResponse) ByID(id string) *BatchResponseItem {
	for i := range b.Responses {
		if b.Responses[i].ID == id {
			return &b.Responses[i]
		}
	}
	return nil
}

// graphErrorBody is the provider-style error envelope embedded in non-200
// responses.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Recognized resource API error codes. The two access-denied spellings map
// to the same taxonomy entry.
const (
	graphCodeRequestDenied   = "Authorization_RequestDenied"
	graphCodeAccessDenied    = "accessDenied"
	graphCodeAccessDeniedAlt = "AccessDenied"
)

// ResourceClient calls the downstream resource API on behalf of the
// signed-in user. Every outbound call obtains a resource token from the
// Session first and attaches it as a bearer credential.
type ResourceClient struct {
	session    *Session
	baseURL    string
	version    string
	httpClient *http.Client
}

// ResourceOption configures a ResourceClient.
type ResourceOption func(*ResourceClient)

// WithHTTPClient sets the HTTP client used for resource calls (for
// timeouts, proxies, test servers).
func WithHTTPClient(client *http.Client) ResourceOption {
	return func(c *ResourceClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewResourceClient creates a client for the resource API configured on the
// session.
func NewResourceClient(session *Session, opts ...ResourceOption) *ResourceClient {
	c := &ResourceClient{
		session:    session,
		baseURL:    strings.TrimRight(session.cfg.GraphBaseURL, "/"),
		version:    session.cfg.GraphVersion,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an authenticated GET against the endpoint and returns the
// raw JSON body.
func (c *ResourceClient) Get(ctx context.Context, endpoint string, forceLogin bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, forceLogin)
}

// Post performs an authenticated POST with a JSON body.
func (c *ResourceClient) Post(ctx context.Context, endpoint string, body any, forceLogin bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, body, forceLogin)
}

// Patch performs an authenticated PATCH with a JSON body.
func (c *ResourceClient) Patch(ctx context.Context, endpoint string, body any, forceLogin bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, endpoint, body, forceLogin)
}

// Delete performs an authenticated DELETE.
func (c *ResourceClient) Delete(ctx context.Context, endpoint string, forceLogin bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, endpoint, nil, forceLogin)
}

// Batch performs up to MaxBatchRequests sub-requests in one authenticated
// call. Oversized batches are rejected before any token or network activity.
// Sub-requests without an ID get one assigned; IDs must be unique within
// the batch for the response correlation to be meaningful.
func (c *ResourceClient) Batch(ctx context.Context, requests []BatchRequest, forceLogin bool) (*BatchResponse, error) {
	if len(requests) > MaxBatchRequests {
		return nil, newError(CodeBatchSizeExceeded,
			"batch of %d requests exceeds the maximum of %d", len(requests), MaxBatchRequests)
	}

	prepared := make([]BatchRequest, len(requests))
	for i, r := range requests {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if !strings.HasPrefix(r.URL, "/") {
			r.URL = "/" + r.URL
		}
		prepared[i] = r
	}

	body, err := c.do(ctx, http.MethodPost, batchEndpoint, map[string]any{"requests": prepared}, forceLogin)
	if err != nil {
		return nil, err
	}

	var out BatchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, wrapError(CodeUnknownGraph, err, "undecodable batch response")
	}
	return &out, nil
}

// do runs one authenticated call and classifies the response.
func (c *ResourceClient) do(ctx context.Context, method, endpoint string, body any, forceLogin bool) (json.RawMessage, error) {
	url, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	token, err := c.session.GetToken(ctx, TokenResource, forceLogin)
	if err != nil {
		return nil, err
	}
	if token == nil {
		// A forced token fetch under the redirect method can start navigation
		// instead of yielding a token; the call resumes on the next page load.
		return nil, newError(CodeAuthenticationRequired,
			"redirect login in progress, no token available yet")
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, wrapError(CodeUnknownGraph, err, "unencodable request body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, wrapError(CodeUnknownGraph, err, "building request for %s", url)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Raw transport failures never cross this boundary.
		return nil, wrapError(CodeUnknownGraph, err, "%s %s failed", method, endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(CodeUnknownGraph, err, "reading response for %s %s", method, endpoint)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, classifyGraphError(resp.StatusCode, raw)
}

// endpointURL joins the endpoint to the API base and version with exactly
// one separator, whichever convention the caller used.
func (c *ResourceClient) endpointURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", newError(CodeInvalidEndpoint, "endpoint is empty")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return fmt.Sprintf("%s/%s%s", c.baseURL, c.version, endpoint), nil
}

// classifyGraphError maps a non-success response onto the error taxonomy.
func classifyGraphError(status int, body []byte) error {
	var envelope graphErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch envelope.Error.Code {
		case graphCodeRequestDenied:
			return newError(CodeRequestDenied, "%s", envelope.Error.Message)
		case graphCodeAccessDenied, graphCodeAccessDeniedAlt:
			return newError(CodeAccessDenied, "%s", envelope.Error.Message)
		}
	}
	return newError(CodeUnknownGraph, "status %d: %s", status, string(body))
}
