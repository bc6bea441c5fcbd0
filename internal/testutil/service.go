package testutil

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// ExportScript scripts the lifecycle of one export on the fake service.
type ExportScript struct {
	ID        string         // Assigned ID (default: exp-<n>)
	Statuses  []string       // One status per response about this export; the last one repeats
	Artifacts []FakeArtifact // Attached when the reported status is "succeeded"
	Error     string         // Reported when the status is "failed"
}

// FakeArtifact is an artifact body served by the fake service.
type FakeArtifact struct {
	ID          string
	Format      string
	ContentType string
	Body        []byte
}

// FakeTemplate is a template known to the fake service.
type FakeTemplate struct {
	Plugin   string
	Key      string
	Version  string
	Title    string
	Required []string         // Parameter names that must be present
	Rows     []map[string]any // Returned by JSON runs
	CSV      string           // Returned by CSV runs
}

// RecordedRequest is a request observed by the fake service.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	At     time.Time
}

type override struct {
	status      int
	contentType string
	body        string
}

type fakeExport struct {
	script ExportScript
	pos    int
}

// FakeService is an in-process Dataset Service backed by httptest.
type FakeService struct {
	server *httptest.Server
	now    func() time.Time

	mu        sync.Mutex
	apiKey    string
	templates []FakeTemplate
	exports   map[string]*fakeExport
	pending   []ExportScript
	failNext  []override
	overrides map[string]override
	requests  []RecordedRequest
	nextID    int
}

// FakeOption configures a FakeService.
type FakeOption func(*FakeService)

// WithAPIKey makes the fake service require "Authorization: Bearer <key>".
func WithAPIKey(key string) FakeOption {
	return func(f *FakeService) { f.apiKey = key }
}

// WithNow stamps recorded requests using now, e.g. a FakeClock's Now.
func WithNow(now func() time.Time) FakeOption {
	return func(f *FakeService) { f.now = now }
}

// NewFakeService starts a fake service that is closed when the test ends.
func NewFakeService(tb testing.TB, opts ...FakeOption) *FakeService {
	tb.Helper()
	f := &FakeService{
		now:       time.Now,
		exports:   make(map[string]*fakeExport),
		overrides: make(map[string]override),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.server = httptest.NewServer(f.router())
	tb.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of the fake service.
func (f *FakeService) URL() string { return f.server.URL }

// Client returns an HTTP client wired to the fake server.
func (f *FakeService) Client() *http.Client { return f.server.Client() }

// AddTemplate registers a template.
func (f *FakeService) AddTemplate(t FakeTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = append(f.templates, t)
}

// AddExport registers an export that already exists on the service.
func (f *FakeService) AddExport(s ExportScript) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		f.nextID++
		s.ID = fmt.Sprintf("exp-%d", f.nextID)
	}
	f.exports[s.ID] = &fakeExport{script: s}
	return s.ID
}

// ScriptNextExport sets the script used by the next export submission.
// Submissions without a script get a single "queued" status.
func (f *FakeService) ScriptNextExport(s ExportScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, s)
}

// FailNext makes the next request fail with status and body.
func (f *FakeService) FailNext(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = append(f.failNext, override{status: status, contentType: "application/json", body: body})
}

// Override pins the response for method and path.
func (f *FakeService) Override(method, path string, status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[method+" "+path] = override{status: status, contentType: contentType, body: body}
}

// Requests returns every request seen so far.
func (f *FakeService) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns how many requests matched method and path prefix.
func (f *FakeService) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

func (f *FakeService) router() http.Handler {
	r := chi.NewRouter()
	r.Use(f.record, f.auth, f.inject)

	r.Route("/api/v1/datasets", func(r chi.Router) {
		r.Get("/templates", f.listTemplates)
		r.Route("/templates/{plugin}/{key}/{version}", func(r chi.Router) {
			r.Get("/", f.getTemplate)
			r.Post("/validate", f.validateTemplate)
			r.Post("/run", f.runTemplate)
		})
		r.Post("/exports", f.createExport)
		r.Get("/exports/{id}", f.getExport)
	})
	r.Get("/artifacts/{exportID}/{name}", f.serveArtifact)
	return r
}

func (f *FakeService) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
			At:     f.now(),
		})
		f.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (f *FakeService) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		key := f.apiKey
		f.mu.Unlock()
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeService) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		var (
			o   override
			hit bool
		)
		if len(f.failNext) > 0 {
			o, f.failNext, hit = f.failNext[0], f.failNext[1:], true
		} else {
			o, hit = f.overrides[r.Method+" "+r.URL.Path]
		}
		f.mu.Unlock()

		if !hit {
			next.ServeHTTP(w, r)
			return
		}
		if o.contentType != "" {
			w.Header().Set("Content-Type", o.contentType)
		}
		w.WriteHeader(o.status)
		_, _ = io.WriteString(w, o.body)
	})
}

func (f *FakeService) listTemplates(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	out := make([]map[string]any, 0, len(f.templates))
	for _, t := range f.templates {
		out = append(out, descriptor(t))
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (f *FakeService) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := f.lookupTemplate(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "dataset template not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": descriptor(t)})
}

func (f *FakeService) validateTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := f.lookupTemplate(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "dataset template not found"})
		return
	}
	var req struct {
		Parameters map[string]any `json:"parameters"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	errs := missingParams(t, req.Parameters)
	writeJSON(w, http.StatusOK, map[string]any{
		"template":   descriptor(t),
		"valid":      len(errs) == 0,
		"parameters": req.Parameters,
		"errors":     errs,
	})
}

func (f *FakeService) runTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := f.lookupTemplate(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "dataset template not found"})
		return
	}
	var req struct {
		Parameters map[string]any `json:"parameters"`
		Scope      map[string]any `json:"scope"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if errs := missingParams(t, req.Parameters); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"template": descriptor(t),
			"valid":    false,
			"errors":   errs,
		})
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, t.CSV)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template":   descriptor(t),
		"scope":      req.Scope,
		"parameters": req.Parameters,
		"result": map[string]any{
			"rows":         t.Rows,
			"format":       "json",
			"generated_at": f.now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func (f *FakeService) createExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Template struct {
			Slug    string `json:"slug"`
			Plugin  string `json:"plugin"`
			Key     string `json:"key"`
			Version string `json:"version"`
		} `json:"template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid export request payload"})
		return
	}
	if req.Template.Slug == "" && (req.Template.Plugin == "" || req.Template.Key == "" || req.Template.Version == "") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "template slug or plugin/key/version required"})
		return
	}

	f.mu.Lock()
	script := ExportScript{Statuses: []string{"queued"}}
	if len(f.pending) > 0 {
		script, f.pending = f.pending[0], f.pending[1:]
	}
	if script.ID == "" {
		f.nextID++
		script.ID = fmt.Sprintf("exp-%d", f.nextID)
	}
	exp := &fakeExport{script: script}
	f.exports[script.ID] = exp
	record := f.snapshot(exp)
	f.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

func (f *FakeService) getExport(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	f.mu.Lock()
	exp, ok := f.exports[id]
	var record map[string]any
	if ok {
		record = f.snapshot(exp)
	}
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "export not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

func (f *FakeService) serveArtifact(w http.ResponseWriter, r *http.Request) {
	exportID, name := param(r, "exportID"), param(r, "name")
	f.mu.Lock()
	defer f.mu.Unlock()

	exp, ok := f.exports[exportID]
	if !ok {
		http.NotFound(w, r)
		return
	}
	for _, a := range exp.script.Artifacts {
		if a.ID+"."+a.Format == name {
			if a.ContentType != "" {
				w.Header().Set("Content-Type", a.ContentType)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(a.Body)
			return
		}
	}
	http.NotFound(w, r)
}

// snapshot renders the export's next status. Callers hold f.mu.
func (f *FakeService) snapshot(exp *fakeExport) map[string]any {
	statuses := exp.script.Statuses
	status := "queued"
	if len(statuses) > 0 {
		i := exp.pos
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		status = statuses[i]
		exp.pos++
	}

	artifacts := []map[string]any{}
	if status == "succeeded" {
		for _, a := range exp.script.Artifacts {
			artifacts = append(artifacts, map[string]any{
				"id":           a.ID,
				"format":       a.Format,
				"content_type": a.ContentType,
				"size_bytes":   len(a.Body),
				"url":          fmt.Sprintf("%s/artifacts/%s/%s.%s?token=signed", f.server.URL, exp.script.ID, a.ID, a.Format),
			})
		}
	}

	record := map[string]any{
		"id":         exp.script.ID,
		"status":     status,
		"artifacts":  artifacts,
		"created_at": f.now().UTC().Format(time.RFC3339Nano),
		"updated_at": f.now().UTC().Format(time.RFC3339Nano),
	}
	if status == "failed" && exp.script.Error != "" {
		record["error"] = exp.script.Error
	}
	return record
}

func (f *FakeService) lookupTemplate(r *http.Request) (FakeTemplate, bool) {
	plugin, key, version := param(r, "plugin"), param(r, "key"), param(r, "version")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.templates {
		if t.Plugin == plugin && t.Key == key && t.Version == version {
			return t, true
		}
	}
	return FakeTemplate{}, false
}

func descriptor(t FakeTemplate) map[string]any {
	params := make([]map[string]any, 0, len(t.Required))
	for _, name := range t.Required {
		params = append(params, map[string]any{"name": name, "type": "string", "required": true})
	}
	return map[string]any{
		"plugin":         t.Plugin,
		"key":            t.Key,
		"version":        t.Version,
		"title":          t.Title,
		"dialect":        "sql",
		"parameters":     params,
		"columns":        []map[string]any{},
		"metadata":       map[string]any{},
		"output_formats": []string{"json", "csv"},
		"slug":           fmt.Sprintf("%s/%s@%s", t.Plugin, t.Key, t.Version),
	}
}

func missingParams(t FakeTemplate, params map[string]any) []map[string]any {
	var errs []map[string]any
	for _, name := range t.Required {
		if _, ok := params[name]; !ok {
			errs = append(errs, map[string]any{"name": name, "message": "parameter is required"})
		}
	}
	return errs
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
