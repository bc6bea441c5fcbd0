package dataset_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasetclient/internal/testutil"
	"datasetclient/pkg/apperrors"
	"datasetclient/pkg/dataset"
)

func succeededExport(t *testing.T, svc *testutil.FakeService, c *dataset.Client, artifacts ...testutil.FakeArtifact) dataset.ExportHandle {
	t.Helper()
	id := svc.AddExport(testutil.ExportScript{Statuses: []string{"succeeded"}, Artifacts: artifacts})
	handle, err := c.GetExport(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, handle.Artifacts, len(artifacts))
	return handle
}

func TestFetchArtifact_ReturnsBody(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	rec := &recorder{}
	c := newClient(t, svc, dataset.WithMetrics(rec))
	csv := "id,count\n1,3\n2,5\n"
	handle := succeededExport(t, svc, c, testutil.FakeArtifact{ID: "a1", Format: "csv", ContentType: "text/csv", Body: []byte(csv)})

	data, err := c.FetchArtifact(context.Background(), handle.Artifacts[0].URL)
	require.NoError(t, err)
	assert.Equal(t, csv, string(data))
	assert.EqualValues(t, len(csv), rec.downloaded["csv"])

	last := svc.Requests()[len(svc.Requests())-1]
	assert.Equal(t, "Bearer secret-token", last.Header.Get("Authorization"))
	assert.Equal(t, "signed", last.Query.Get("token"))
}

func TestFetchArtifact_ResolvesRelativeURL(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)
	handle := succeededExport(t, svc, c, testutil.FakeArtifact{ID: "a1", Format: "json", Body: []byte(`{"rows":[]}`)})

	relative := strings.TrimPrefix(handle.Artifacts[0].URL, svc.URL())
	require.True(t, strings.HasPrefix(relative, "/artifacts/"))

	data, err := c.FetchArtifact(context.Background(), relative)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[]}`, string(data))
}

func TestFetchArtifact_Errors(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)

	_, err := c.FetchArtifact(context.Background(), "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = c.FetchArtifact(context.Background(), svc.URL()+"/artifacts/nope/a1.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrService))
	assert.Equal(t, http.StatusNotFound, apperrors.StatusCode(err))
}

func TestSaveArtifact_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)
	body := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02}
	handle := succeededExport(t, svc, c, testutil.FakeArtifact{ID: "chart", Format: "png", ContentType: "image/png", Body: body})

	dest := filepath.Join(t.TempDir(), "reports", "2025", "q1", "chart.png")
	got, err := c.SaveArtifact(context.Background(), handle.Artifacts[0].URL, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, written)
}

func TestSaveArtifact_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)
	handle := succeededExport(t, svc, c, testutil.FakeArtifact{ID: "a1", Format: "csv", Body: []byte("new")})

	dest := filepath.Join(t.TempDir(), "a1.csv")
	require.NoError(t, os.WriteFile(dest, []byte("old contents that are longer"), 0o644))

	_, err := c.SaveArtifact(context.Background(), handle.Artifacts[0].URL, dest)
	require.NoError(t, err)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(written))
}

func TestSaveArtifact_TruncatedBodyKeepsExistingFile(t *testing.T) {
	t.Parallel()

	// Announces 1000 bytes, sends a few, then drops the connection.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/csv\r\nContent-Length: 1000\r\n\r\npartial")
		buf.Flush()
	}))
	defer server.Close()

	c, err := dataset.New(dataset.Config{BaseURL: server.URL, Timeout: 5 * time.Second, HTTPClient: server.Client()})
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "a1.csv")
	require.NoError(t, os.WriteFile(dest, []byte("previous good content"), 0o644))

	_, err = c.SaveArtifact(context.Background(), server.URL+"/artifacts/exp-1/a1.csv", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))

	kept, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous good content", string(kept))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestSaveArtifact_Errors(t *testing.T) {
	t.Parallel()

	svc := testutil.NewFakeService(t)
	c := newClient(t, svc)
	dir := t.TempDir()

	_, err := c.SaveArtifact(context.Background(), svc.URL()+"/artifacts/x/y.csv", "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	dest := filepath.Join(dir, "missing.csv")
	_, err = c.SaveArtifact(context.Background(), svc.URL()+"/artifacts/x/y.csv", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrService))
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed download must not create the file")

	// A regular file where a directory is expected surfaces the filesystem error.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err = c.SaveArtifact(context.Background(), svc.URL()+"/artifacts/x/y.csv", filepath.Join(blocker, "out.csv"))
	require.Error(t, err)
	var appErr *apperrors.Error
	assert.False(t, errors.As(err, &appErr), "filesystem errors are returned unwrapped")
}
