package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datasetclient/pkg/apperrors"
)

// Format is an output format understood by the service.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatPNG     Format = "png"
	FormatHTML    Format = "html"
)

// Status is the lifecycle stage of an export job.
type Status string

// Status constants. Jobs move queued -> running -> succeeded|failed.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TemplateIdentity names the template an export is built from.
// It is either a Slug or a fully populated TemplateRef.
type TemplateIdentity interface {
	templatePayload() (templatePayload, error)
}

type templatePayload struct {
	Slug    string `json:"slug,omitempty"`
	Plugin  string `json:"plugin,omitempty"`
	Key     string `json:"key,omitempty"`
	Version string `json:"version,omitempty"`
}

// Slug is the precomputed "plugin/key@version" form of a template identity.
type Slug string

func (s Slug) templatePayload() (templatePayload, error) {
	slug := strings.TrimSpace(string(s))
	if slug == "" {
		return templatePayload{}, apperrors.Validation("template.slug", "template slug must not be empty")
	}
	return templatePayload{Slug: slug}, nil
}

// TemplateRef identifies a report template by plugin, key and version.
type TemplateRef struct {
	Plugin  string `json:"plugin" yaml:"plugin"`
	Key     string `json:"key" yaml:"key"`
	Version string `json:"version" yaml:"version"`
}

// Validate checks that all three fields are present.
func (r TemplateRef) Validate() error {
	if r.Plugin == "" {
		return apperrors.Validation("template.plugin", "plugin, key, and version are required when slug is omitted")
	}
	if r.Key == "" {
		return apperrors.Validation("template.key", "plugin, key, and version are required when slug is omitted")
	}
	if r.Version == "" {
		return apperrors.Validation("template.version", "plugin, key, and version are required when slug is omitted")
	}
	return nil
}

// Slug renders the ref in the service's "plugin/key@version" form.
func (r TemplateRef) Slug() Slug {
	return Slug(fmt.Sprintf("%s/%s@%s", r.Plugin, r.Key, r.Version))
}

func (r TemplateRef) String() string { return string(r.Slug()) }

func (r TemplateRef) templatePayload() (templatePayload, error) {
	if err := r.Validate(); err != nil {
		return templatePayload{}, err
	}
	return templatePayload{Plugin: r.Plugin, Key: r.Key, Version: r.Version}, nil
}

// ParseSlug splits a "plugin/key@version" slug into a TemplateRef.
func ParseSlug(slug string) (TemplateRef, error) {
	slug = strings.TrimSpace(slug)
	path, version, ok := strings.Cut(slug, "@")
	if !ok {
		return TemplateRef{}, apperrors.Validation("template.slug", fmt.Sprintf("slug %q is missing @version", slug))
	}
	plugin, key, ok := strings.Cut(path, "/")
	if !ok {
		return TemplateRef{}, apperrors.Validation("template.slug", fmt.Sprintf("slug %q is missing plugin/", slug))
	}
	ref := TemplateRef{Plugin: plugin, Key: key, Version: version}
	if err := ref.Validate(); err != nil {
		return TemplateRef{}, err
	}
	return ref, nil
}

// Scope carries the RBAC filters applied by the service when running a template.
type Scope struct {
	Requestor   string   `json:"requestor,omitempty" yaml:"requestor"`
	Roles       []string `json:"roles,omitempty" yaml:"roles"`
	ProjectIDs  []string `json:"project_ids,omitempty" yaml:"project_ids"`
	ProtocolIDs []string `json:"protocol_ids,omitempty" yaml:"protocol_ids"`
}

// ExportRequest describes an asynchronous export to queue.
type ExportRequest struct {
	Template    TemplateIdentity
	Parameters  map[string]any
	Scope       Scope
	Formats     []Format
	RequestedBy string
	Reason      string
	ProjectID   string
	ProtocolID  string
}

// exportRequestBody is the wire form of ExportRequest.
type exportRequestBody struct {
	Template    templatePayload `json:"template"`
	Parameters  map[string]any  `json:"parameters"`
	Scope       Scope           `json:"scope"`
	Formats     []Format        `json:"formats"`
	RequestedBy string          `json:"requested_by,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
	ProtocolID  string          `json:"protocol_id,omitempty"`
}

// Validate checks the request without touching the network.
func (r ExportRequest) Validate() error {
	_, err := r.body()
	return err
}

func (r ExportRequest) body() (exportRequestBody, error) {
	if r.Template == nil {
		return exportRequestBody{}, apperrors.Validation("template", "template slug or plugin/key/version required")
	}
	tpl, err := r.Template.templatePayload()
	if err != nil {
		return exportRequestBody{}, err
	}
	params := r.Parameters
	if params == nil {
		params = map[string]any{}
	}
	formats := r.Formats
	if formats == nil {
		formats = []Format{}
	}
	return exportRequestBody{
		Template:    tpl,
		Parameters:  params,
		Scope:       r.Scope,
		Formats:     formats,
		RequestedBy: r.RequestedBy,
		Reason:      r.Reason,
		ProjectID:   r.ProjectID,
		ProtocolID:  r.ProtocolID,
	}, nil
}

// Artifact is a downloadable output of a completed export.
// Only URL and Format are interpreted by the client.
type Artifact struct {
	ID          string         `json:"id,omitempty"`
	URL         string         `json:"url"`
	Format      Format         `json:"format"`
	ContentType string         `json:"content_type,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
}

// ExportHandle is a snapshot of an export job. Each status fetch returns a new
// value with the same ID; Artifacts is only populated once the job succeeded.
type ExportHandle struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Artifacts   []Artifact `json:"artifacts"`
	Error       string     `json:"error,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	ProtocolID  string     `json:"protocol_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitzero"`
	UpdatedAt   time.Time  `json:"updated_at,omitzero"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// exportEnvelope is the {"export": {...}} response shape.
type exportEnvelope struct {
	Export json.RawMessage `json:"export"`
}

// parseExport decodes and checks an export envelope.
func parseExport(op string, data []byte) (ExportHandle, error) {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ExportHandle{}, apperrors.Protocol(op, "decode response", err)
	}
	if len(env.Export) == 0 || string(env.Export) == "null" {
		return ExportHandle{}, apperrors.Protocol(op, `response is missing "export"`, nil)
	}
	var handle ExportHandle
	if err := json.Unmarshal(env.Export, &handle); err != nil {
		return ExportHandle{}, apperrors.Protocol(op, "decode export", err)
	}
	if handle.ID == "" {
		return ExportHandle{}, apperrors.Protocol(op, "export is missing id", nil)
	}
	if !handle.Status.Valid() {
		return ExportHandle{}, apperrors.Protocol(op, fmt.Sprintf("export %s has unknown status %q", handle.ID, handle.Status), nil)
	}
	if handle.Artifacts == nil {
		handle.Artifacts = []Artifact{}
	}
	return handle, nil
}
