// Package sink stores the artifacts of a finished export.
package sink

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"datasetclient/pkg/dataset"
)

// Sink stores one artifact and returns where it ended up.
type Sink interface {
	Store(ctx context.Context, exportID string, name string, artifact dataset.Artifact) (string, error)
}

// Open picks a sink for output: "s3://bucket/prefix" selects S3, anything
// else is treated as a local directory.
func Open(ctx context.Context, client *dataset.Client, output string) (Sink, error) {
	if rest, ok := strings.CutPrefix(output, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid output %q: bucket required", output)
		}
		return NewS3Sink(ctx, client, bucket, strings.Trim(prefix, "/"))
	}
	if output == "" {
		return nil, fmt.Errorf("output directory required")
	}
	return NewFileSink(client, output), nil
}

// StoreAll stores every artifact of handle and returns the locations keyed
// by artifact URL. It stops at the first failure.
func StoreAll(ctx context.Context, s Sink, handle dataset.ExportHandle) (map[string]string, error) {
	locations := make(map[string]string, len(handle.Artifacts))
	for i, a := range handle.Artifacts {
		name := ArtifactName(a, i)
		location, err := s.Store(ctx, handle.ID, name, a)
		if err != nil {
			return locations, fmt.Errorf("store artifact %s: %w", name, err)
		}
		locations[a.URL] = location
	}
	return locations, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// pathSegment makes s safe to use as a single path element. Separators and
// leading or trailing dots are stripped, so ".." never survives.
func pathSegment(s, fallback string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "._")
	if s == "" {
		return fallback
	}
	return s
}

// ExportDir returns the directory (or key prefix) element for an export.
func ExportDir(exportID string) string {
	return pathSegment(exportID, "export")
}

// ArtifactName derives a file name from the artifact ID and format, e.g.
// "a1.csv". Artifacts without an ID are numbered from 1.
func ArtifactName(a dataset.Artifact, index int) string {
	base := pathSegment(a.ID, fmt.Sprintf("artifact-%d", index+1))
	ext := unsafeChars.ReplaceAllString(string(a.Format), "")
	if ext == "" {
		ext = "bin"
	}
	return base + "." + ext
}
