// Package notify announces finished dataset exports as CloudEvents 1.0.
package notify

import (
	"time"

	"github.com/google/uuid"

	"datasetclient/pkg/dataset"
)

// Event types
const (
	TypeExportSucceeded = "dataset.export.succeeded"
	TypeExportFailed    = "dataset.export.failed"
)

// CloudEvent represents a CloudEvents 1.0 specification event
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            ExportEventData `json:"data"`
}

// ExportEventData is the payload of an export event.
type ExportEventData struct {
	ExportID  string         `json:"exportId"`
	Status    dataset.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
	Artifacts []ArtifactRef  `json:"artifacts"`
}

// ArtifactRef points at one stored artifact.
type ArtifactRef struct {
	Format   dataset.Format `json:"format"`
	URL      string         `json:"url"`                // Service-issued download URL
	Location string         `json:"location,omitempty"` // Where the artifact was stored, if anywhere
}

// NewExportEvent builds the event for a terminal export handle. locations
// maps artifact URLs to where they were stored.
func NewExportEvent(source string, handle dataset.ExportHandle, locations map[string]string) *CloudEvent {
	eventType := TypeExportSucceeded
	if handle.Status != dataset.StatusSucceeded {
		eventType = TypeExportFailed
	}

	artifacts := make([]ArtifactRef, 0, len(handle.Artifacts))
	for _, a := range handle.Artifacts {
		artifacts = append(artifacts, ArtifactRef{Format: a.Format, URL: a.URL, Location: locations[a.URL]})
	}

	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          source,
		Subject:         handle.ID,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data: ExportEventData{
			ExportID:  handle.ID,
			Status:    handle.Status,
			Error:     handle.Error,
			Artifacts: artifacts,
		},
	}
}
