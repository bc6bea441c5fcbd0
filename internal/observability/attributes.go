// Package observability provides metrics for the dataset client and its tools.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrTemplate = "template"
	attrFormat   = "format"
	attrOutcome  = "outcome"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// /api/v1/datasets/exports/abc123 -> /api/v1/datasets/exports/{id}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 0 means no response was received
	if code == 0 {
		return attribute.String(attrStatus, "error")
	}
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func templateAttr(template string) attribute.KeyValue {
	return attribute.String(attrTemplate, template)
}

func formatAttr(format string) attribute.KeyValue {
	if format == "" {
		format = "unknown"
	}
	return attribute.String(attrFormat, format)
}

// outcomeAttr carries an export status (queued, running, succeeded, failed)
// or "timeout".
func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

// normalizePath replaces dynamic path segments with placeholders. Paths that
// already carry placeholders pass through unchanged.
func normalizePath(path string) string {
	const prefix = "/api/v1/datasets/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return path
	}
	parts := strings.Split(rest, "/")
	switch {
	case parts[0] == "exports" && len(parts) == 2 && parts[1] != "":
		return prefix + "exports/{id}"
	case parts[0] == "templates" && len(parts) >= 4:
		route := prefix + "templates/{plugin}/{key}/{version}"
		if len(parts) == 5 {
			route += "/" + parts[4]
		}
		return route
	}
	return path
}
