package dataset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"datasetclient/pkg/apperrors"
)

// Parameter declares an input parameter of a template.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Example     any      `json:"example,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Column describes an output column of a template.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// TemplateMetadata holds descriptive attributes of a template.
type TemplateMetadata struct {
	Source          string            `json:"source,omitempty"`
	Documentation   string            `json:"documentation,omitempty"`
	RefreshInterval string            `json:"refresh_interval,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Annotations     map[string]string `json:"annotations,omitempty"`
}

// Template is the service's descriptor of a report template.
type Template struct {
	Plugin        string           `json:"plugin"`
	Key           string           `json:"key"`
	Version       string           `json:"version"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Dialect       string           `json:"dialect"`
	Query         string           `json:"query"`
	Parameters    []Parameter      `json:"parameters"`
	Columns       []Column         `json:"columns"`
	Metadata      TemplateMetadata `json:"metadata"`
	OutputFormats []Format         `json:"output_formats"`
	Slug          string           `json:"slug"`
}

// Ref returns the identity of t.
func (t Template) Ref() TemplateRef {
	return TemplateRef{Plugin: t.Plugin, Key: t.Key, Version: t.Version}
}

// ParameterError reports why one parameter was rejected.
type ParameterError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating parameters against a template.
type ValidationResult struct {
	Template   Template         `json:"template"`
	Valid      bool             `json:"valid"`
	Parameters map[string]any   `json:"parameters"`
	Errors     []ParameterError `json:"errors,omitempty"`
}

// RunRequest holds the inputs of a synchronous template run.
type RunRequest struct {
	Parameters map[string]any
	Scope      Scope
	Format     Format // json (default) or csv
}

// RunResult holds the output of a synchronous run. CSV runs fill Text;
// every other format fills Data with the decoded JSON object.
type RunResult struct {
	Format Format
	Data   map[string]any
	Text   string
}

// Rows returns the result rows of a JSON run, if present.
func (r RunResult) Rows() []map[string]any {
	result, ok := r.Data["result"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := result["rows"].([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// GeneratedAt returns the generation time reported by a JSON run.
func (r RunResult) GeneratedAt() (time.Time, bool) {
	result, ok := r.Data["result"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	s, ok := result["generated_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// ListTemplates returns every template the service exposes.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	const op = "templates.list"

	target, err := c.endpoint(op, "/templates")
	if err != nil {
		return nil, err
	}
	data, err := c.roundTrip(ctx, call{op: op, method: http.MethodGet, target: target})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Templates *[]Template `json:"templates"`
	}
	if err := decode(op, data, &payload); err != nil {
		return nil, err
	}
	if payload.Templates == nil {
		return nil, apperrors.Protocol(op, `response is missing "templates"`, nil)
	}
	return *payload.Templates, nil
}

// GetTemplate fetches one template descriptor.
func (c *Client) GetTemplate(ctx context.Context, ref TemplateRef) (Template, error) {
	const op = "templates.get"

	target, err := c.templateEndpoint(op, ref, "")
	if err != nil {
		return Template{}, err
	}
	data, err := c.roundTrip(ctx, call{
		op:     op,
		method: http.MethodGet,
		target: target,
		route:  apiPrefix + "/templates/{plugin}/{key}/{version}",
	})
	if err != nil {
		return Template{}, notFound(err, op, "template", ref.String())
	}

	var payload struct {
		Template json.RawMessage `json:"template"`
	}
	if err := decode(op, data, &payload); err != nil {
		return Template{}, err
	}
	if len(payload.Template) == 0 || string(payload.Template) == "null" {
		return Template{}, apperrors.Protocol(op, `response is missing "template"`, nil)
	}
	var tpl Template
	if err := decode(op, payload.Template, &tpl); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

// ValidateTemplate asks the service to check parameters against a template.
// Invalid parameters are reported in the result, not as an error.
func (c *Client) ValidateTemplate(ctx context.Context, ref TemplateRef, parameters map[string]any) (ValidationResult, error) {
	const op = "templates.validate"

	target, err := c.templateEndpoint(op, ref, "validate")
	if err != nil {
		return ValidationResult{}, err
	}
	if parameters == nil {
		parameters = map[string]any{}
	}
	data, err := c.roundTrip(ctx, call{
		op:     op,
		method: http.MethodPost,
		target: target,
		route:  apiPrefix + "/templates/{plugin}/{key}/{version}/validate",
		body:   map[string]any{"parameters": parameters},
	})
	if err != nil {
		return ValidationResult{}, notFound(err, op, "template", ref.String())
	}

	var result ValidationResult
	if err := decode(op, data, &result); err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// RunTemplate executes a template synchronously. A csv format requests
// text/csv and returns the raw text; any other format returns parsed JSON.
func (c *Client) RunTemplate(ctx context.Context, ref TemplateRef, req RunRequest) (RunResult, error) {
	const op = "templates.run"

	format := Format(strings.ToLower(strings.TrimSpace(string(req.Format))))
	if format == "" {
		format = FormatJSON
	}

	target, err := c.templateEndpoint(op, ref, "run")
	if err != nil {
		return RunResult{}, err
	}
	parameters := req.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	cl := call{
		op:     op,
		method: http.MethodPost,
		target: target,
		route:  apiPrefix + "/templates/{plugin}/{key}/{version}/run",
		query:  url.Values{"format": []string{string(format)}},
		body: map[string]any{
			"parameters": parameters,
			"scope":      req.Scope,
		},
	}
	if format == FormatCSV {
		cl.accept = "text/csv"
	}

	data, err := c.roundTrip(ctx, cl)
	if err != nil {
		return RunResult{}, notFound(err, op, "template", ref.String())
	}

	if format == FormatCSV {
		return RunResult{Format: format, Text: string(data)}, nil
	}
	var obj map[string]any
	if err := decode(op, data, &obj); err != nil {
		return RunResult{}, err
	}
	return RunResult{Format: format, Data: obj}, nil
}

func (c *Client) templateEndpoint(op string, ref TemplateRef, action string) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	target, err := c.endpoint(op, "/templates",
		pathParam{name: "plugin", value: ref.Plugin},
		pathParam{name: "key", value: ref.Key},
		pathParam{name: "version", value: ref.Version},
	)
	if err != nil {
		return "", err
	}
	if action != "" {
		target += "/" + action
	}
	return target, nil
}
