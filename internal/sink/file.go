package sink

import (
	"context"
	"path/filepath"

	"datasetclient/pkg/dataset"
)

// FileSink writes artifacts to <dir>/<exportID>/<name>.
type FileSink struct {
	client *dataset.Client
	dir    string
}

// NewFileSink creates a sink rooted at dir. Directories are created on demand.
func NewFileSink(client *dataset.Client, dir string) *FileSink {
	return &FileSink{client: client, dir: dir}
}

// Store downloads the artifact straight to disk.
func (s *FileSink) Store(ctx context.Context, exportID, name string, artifact dataset.Artifact) (string, error) {
	dest := filepath.Join(s.dir, ExportDir(exportID), name)
	return s.client.SaveArtifact(ctx, artifact.URL, dest)
}
