package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"datasetclient/pkg/apperrors"
)

const (
	apiPrefix    = "/api/v1/datasets"
	maxErrorBody = 64 << 10 // 64 KB
)

// call describes one request against the service.
type call struct {
	op     string     // operation name used in errors, e.g. "exports.get"
	method string     // HTTP method
	target string     // absolute URL
	route  string     // metrics label; defaults to the URL path
	query  url.Values // appended to target
	accept string     // overrides the default Accept header
	body   any        // JSON-encoded when non-nil
}

// roundTrip performs c and returns the full body of a 2xx response.
func (c *Client) roundTrip(ctx context.Context, cl call) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(cl.op, fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

// do sends the request and returns the response if it is 2xx. The caller
// owns the returned body. Non-2xx responses are drained and turned into
// service errors.
func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return nil, err
	}

	route := cl.route
	if route == "" {
		route = req.URL.Path
	}
	logger := c.logger.With("op", cl.op, "method", req.Method, "path", route, "requestId", req.Header.Get("X-Request-ID"))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordRequest(ctx, req.Method, route, 0, duration)
		logger.Debug("Dataset request failed", "error", err, "duration", duration)
		return nil, apperrors.Transport(cl.op, err)
	}

	c.metrics.RecordRequest(ctx, req.Method, route, resp.StatusCode, duration)
	logger.Debug("Dataset request", "status", resp.StatusCode, "duration", duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.Service(cl.op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// newRequest builds a request carrying the client's fixed headers.
func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, apperrors.Validation("body", fmt.Sprintf("%s: failed to encode request: %v", cl.op, err))
		}
		body = bytes.NewReader(data)
	}

	target := cl.target
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return nil, apperrors.Validation("url", fmt.Sprintf("%s: failed to create request: %v", cl.op, err))
	}

	req.Header = c.headers.Clone()
	req.Header.Set("X-Request-ID", uuid.NewString())
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.accept != "" {
		req.Header.Set("Accept", cl.accept)
	}
	return req, nil
}

// endpoint joins the API prefix and path parameters, each styled as an
// OpenAPI "simple" path parameter.
func (c *Client) endpoint(op string, path string, params ...pathParam) (string, error) {
	var b strings.Builder
	b.WriteString(c.base)
	b.WriteString(apiPrefix)
	b.WriteString(path)
	for _, p := range params {
		if strings.TrimSpace(p.value) == "" {
			return "", apperrors.Validation(p.name, fmt.Sprintf("%s: %s is required", op, p.name))
		}
		styled, err := runtime.StyleParamWithLocation("simple", false, p.name, runtime.ParamLocationPath, p.value)
		if err != nil {
			return "", apperrors.Validation(p.name, fmt.Sprintf("%s: invalid %s: %v", op, p.name, err))
		}
		b.WriteByte('/')
		b.WriteString(styled)
	}
	return b.String(), nil
}

type pathParam struct {
	name  string
	value string
}

// resolve turns an artifact URL into an absolute URL. Relative URLs are
// resolved against the base URL.
func (c *Client) resolve(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", apperrors.Validation("url", "artifact URL is required")
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", apperrors.Validation("url", fmt.Sprintf("invalid artifact URL: %v", err))
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// decode unmarshals a 2xx body into v, reporting shape problems as protocol errors.
func decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Protocol(op, "decode response", err)
	}
	return nil
}

// notFound converts a 404 service error into a not-found error for resource id.
func notFound(err error, op, resource, id string) error {
	if apperrors.StatusCode(err) != http.StatusNotFound {
		return err
	}
	var body string
	if appErr, ok := err.(*apperrors.Error); ok {
		body = appErr.Body
	}
	return apperrors.NotFound(op, resource, id, body)
}
