package dataset

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"datasetclient/pkg/apperrors"
)

const artifactRoute = "artifact"

// FetchArtifact downloads an artifact and returns its body. The request
// carries the same headers, bearer token and timeout as every other call.
func (c *Client) FetchArtifact(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "artifacts.fetch"

	target, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	data, err := c.roundTrip(ctx, call{
		op:     op,
		method: http.MethodGet,
		target: target,
		route:  artifactRoute,
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordArtifactDownloaded(ctx, formatFromPath(target), int64(len(data)))
	return data, nil
}

// SaveArtifact downloads an artifact into destination, creating any missing
// parent directories, and returns destination. The body is written verbatim.
// An existing file is replaced only once the whole body has arrived.
// Filesystem errors are returned as-is.
func (c *Client) SaveArtifact(ctx context.Context, rawURL, destination string) (string, error) {
	const op = "artifacts.save"

	if destination == "" {
		return "", apperrors.Validation("destination", "destination path is required")
	}
	target, err := c.resolve(rawURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, call{
		op:     op,
		method: http.MethodGet,
		target: target,
		route:  artifactRoute,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	written, err := writeAtomic(destination, resp.Body)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return "", err
		}
		return "", apperrors.Transport(op, err)
	}

	c.metrics.RecordArtifactDownloaded(ctx, formatFromPath(destination), written)
	c.logger.Debug("Saved artifact", "bytes", written, "path", destination)
	return destination, nil
}

// writeAtomic streams body into a temp file next to destination and renames
// it into place. The temp file is removed on any failure.
func writeAtomic(destination string, body io.Reader) (written int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(destination), "."+filepath.Base(destination)+".*.part")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if written, err = io.Copy(tmp, body); err != nil {
		return 0, err
	}
	if err = tmp.Sync(); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), destination); err != nil {
		return 0, err
	}
	return written, nil
}

// formatFromPath guesses a metrics label from a file extension.
func formatFromPath(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		path = u.Path
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return "unknown"
	}
	return ext[1:]
}
