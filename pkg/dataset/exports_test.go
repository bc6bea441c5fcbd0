package dataset_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasetclient/internal/testutil"
	"datasetclient/pkg/apperrors"
	"datasetclient/pkg/dataset"
)

const exportsPath = "/api/v1/datasets/exports"

func TestSubmitExport_ValidationMakesNoCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		req   dataset.ExportRequest
		field string
	}{
		{
			name:  "nil template",
			req:   dataset.ExportRequest{},
			field: "template",
		},
		{
			name:  "blank slug",
			req:   dataset.ExportRequest{Template: dataset.Slug("  ")},
			field: "template.slug",
		},
		{
			name:  "ref missing plugin",
			req:   dataset.ExportRequest{Template: dataset.TemplateRef{Key: "population", Version: "1.0.0"}},
			field: "template.plugin",
		},
		{
			name:  "ref missing key",
			req:   dataset.ExportRequest{Template: dataset.TemplateRef{Plugin: "frog", Version: "1.0.0"}},
			field: "template.key",
		},
		{
			name:  "ref missing version",
			req:   dataset.ExportRequest{Template: dataset.TemplateRef{Plugin: "frog", Key: "population"}},
			field: "template.version",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := testutil.NewFakeService(t)
			c := newClient(t, svc)

			_, err := c.SubmitExport(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))

			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
			assert.Empty(t, svc.Requests(), "validation must not reach the network")
		})
	}
}

func TestSubmitExport_SendsWireBody(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	svc.ScriptNextExport(testutil.ExportScript{ID: "exp-42", Statuses: []string{"queued"}})
	rec := &recorder{}
	c := newClient(t, svc, dataset.WithMetrics(rec))

	handle, err := c.SubmitExport(context.Background(), dataset.ExportRequest{
		Template:    dataset.TemplateRef{Plugin: "frog", Key: "population", Version: "1.0.0"},
		Parameters:  map[string]any{"stage": "adult"},
		Scope:       dataset.Scope{Requestor: "alice", ProjectIDs: []string{"p1"}},
		Formats:     []dataset.Format{dataset.FormatCSV, dataset.FormatParquet},
		RequestedBy: "alice",
		Reason:      "quarterly report",
	})
	require.NoError(t, err)
	assert.Equal(t, "exp-42", handle.ID)
	assert.Equal(t, dataset.StatusQueued, handle.Status)
	assert.NotNil(t, handle.Artifacts)
	assert.Empty(t, handle.Artifacts)

	reqs := svc.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, exportsPath, reqs[0].Path)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, map[string]any{"plugin": "frog", "key": "population", "version": "1.0.0"}, body["template"])
	assert.Equal(t, map[string]any{"stage": "adult"}, body["parameters"])
	assert.Equal(t, []any{"csv", "parquet"}, body["formats"])
	assert.Equal(t, "alice", body["requested_by"])
	assert.Equal(t, "quarterly report", body["reason"])
	assert.NotContains(t, body, "project_id")

	assert.Equal(t, []string{"frog/population@1.0.0"}, rec.submitted)
}

func TestSubmitExport_SlugDefaultsEmptyCollections(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)

	_, err := c.SubmitExport(context.Background(), dataset.ExportRequest{Template: dataset.Slug("frog/population@1.0.0")})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(svc.Requests()[0].Body, &body))
	assert.Equal(t, map[string]any{"slug": "frog/population@1.0.0"}, body["template"])
	assert.Equal(t, map[string]any{}, body["parameters"])
	assert.Equal(t, []any{}, body["formats"])
}

func TestSubmitExport_ServiceRejection(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	svc.FailNext(http.StatusBadRequest, `{"error":"unknown parameter stage"}`)
	c := newClient(t, svc)

	_, err := c.SubmitExport(context.Background(), dataset.ExportRequest{Template: dataset.Slug("frog/population@1.0.0")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrService))
	assert.False(t, errors.Is(err, apperrors.ErrNotFound))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Contains(t, appErr.Body, "unknown parameter stage")
}

func TestSubmitExport_MalformedResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing export", `{"job":{"id":"x"}}`},
		{"null export", `{"export":null}`},
		{"missing id", `{"export":{"status":"queued"}}`},
		{"unknown status", `{"export":{"id":"exp-1","status":"paused"}}`},
		{"empty status", `{"export":{"id":"exp-1"}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := testutil.NewFakeService(t)
			svc.Override(http.MethodPost, exportsPath, http.StatusAccepted, "application/json", tt.body)
			c := newClient(t, svc)

			_, err := c.SubmitExport(context.Background(), dataset.ExportRequest{Template: dataset.Slug("frog/population@1.0.0")})
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrProtocol), "got %v", err)
		})
	}
}

func TestGetExport_IsIdempotent(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	id := svc.AddExport(testutil.ExportScript{Statuses: []string{"running"}})
	c := newClient(t, svc)

	first, err := c.GetExport(context.Background(), id)
	require.NoError(t, err)
	second, err := c.GetExport(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 2, svc.Count(http.MethodGet, exportsPath+"/"+id))
}

func TestGetExport_UnknownID(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)

	_, err := c.GetExport(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.True(t, errors.Is(err, apperrors.ErrService))
	assert.Equal(t, http.StatusNotFound, apperrors.StatusCode(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "export", appErr.Resource)
	assert.Equal(t, "missing", appErr.ID)
}

func TestGetExport_BlankIDIsValidationError(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)

	_, err := c.GetExport(context.Background(), " ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, svc.Requests())
}

func TestGetExport_MismatchedID(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	svc.Override(http.MethodGet, exportsPath+"/exp-1", http.StatusOK, "application/json",
		`{"export":{"id":"exp-2","status":"running"}}`)
	c := newClient(t, svc)

	_, err := c.GetExport(context.Background(), "exp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrProtocol))
}

func TestGetExport_ParsesSucceededRecord(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	svc.Override(http.MethodGet, exportsPath+"/exp-9", http.StatusOK, "application/json", `{
		"export": {
			"id": "exp-9",
			"status": "succeeded",
			"requested_by": "alice",
			"project_id": "p1",
			"created_at": "2025-01-01T00:00:00Z",
			"updated_at": "2025-01-01T00:00:06Z",
			"completed_at": "2025-01-01T00:00:06Z",
			"artifacts": [
				{"id": "a1", "format": "csv", "content_type": "text/csv", "size_bytes": 12, "url": "https://cdn.example.com/a1.csv"}
			]
		}
	}`)
	c := newClient(t, svc)

	handle, err := c.GetExport(context.Background(), "exp-9")
	require.NoError(t, err)
	assert.Equal(t, dataset.StatusSucceeded, handle.Status)
	assert.Equal(t, "alice", handle.RequestedBy)
	assert.Equal(t, "p1", handle.ProjectID)
	require.NotNil(t, handle.CompletedAt)
	assert.Equal(t, 6.0, handle.CompletedAt.Sub(handle.CreatedAt).Seconds())
	require.Len(t, handle.Artifacts, 1)
	assert.Equal(t, dataset.FormatCSV, handle.Artifacts[0].Format)
	assert.Equal(t, "https://cdn.example.com/a1.csv", handle.Artifacts[0].URL)
	assert.EqualValues(t, 12, handle.Artifacts[0].SizeBytes)
}

func TestGetExport_UnreachableService(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := dataset.New(dataset.Config{BaseURL: base})
	require.NoError(t, err)

	_, err = c.GetExport(context.Background(), "exp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestGetExport_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	svc.FailNext(http.StatusServiceUnavailable, "upstream down")
	c := newClient(t, svc)

	_, err := c.GetExport(context.Background(), "exp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrService))
	assert.False(t, errors.Is(err, apperrors.ErrNotFound))
	assert.True(t, apperrors.IsRetryable(err))
}
