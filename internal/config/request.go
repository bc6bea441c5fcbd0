package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"datasetclient/pkg/dataset"
)

// requestFile mirrors the YAML layout of an export request:
//
//	template: frog/population@1.0.0   # or {plugin, key, version}
//	parameters: {stage: adult}
//	scope: {requestor: alice, project_ids: [p1]}
//	formats: [csv, parquet]
//	requested_by: alice
//	reason: quarterly report
type requestFile struct {
	Template    yaml.Node      `yaml:"template"`
	Parameters  map[string]any `yaml:"parameters"`
	Scope       dataset.Scope  `yaml:"scope"`
	Formats     []string       `yaml:"formats"`
	RequestedBy string         `yaml:"requested_by"`
	Reason      string         `yaml:"reason"`
	ProjectID   string         `yaml:"project_id"`
	ProtocolID  string         `yaml:"protocol_id"`
}

// LoadExportRequest reads an export request from a YAML file.
func LoadExportRequest(path string) (dataset.ExportRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dataset.ExportRequest{}, fmt.Errorf("read export request: %w", err)
	}
	return ParseExportRequest(data)
}

// ParseExportRequest decodes a YAML export request and validates it.
func ParseExportRequest(data []byte) (dataset.ExportRequest, error) {
	var file requestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return dataset.ExportRequest{}, fmt.Errorf("parse export request: %w", err)
	}

	template, err := decodeTemplate(&file.Template)
	if err != nil {
		return dataset.ExportRequest{}, err
	}

	formats := make([]dataset.Format, 0, len(file.Formats))
	for _, f := range file.Formats {
		formats = append(formats, dataset.Format(strings.ToLower(strings.TrimSpace(f))))
	}

	req := dataset.ExportRequest{
		Template:    template,
		Parameters:  file.Parameters,
		Scope:       file.Scope,
		Formats:     formats,
		RequestedBy: file.RequestedBy,
		Reason:      file.Reason,
		ProjectID:   file.ProjectID,
		ProtocolID:  file.ProtocolID,
	}
	if err := req.Validate(); err != nil {
		return dataset.ExportRequest{}, err
	}
	return req, nil
}

// decodeTemplate accepts either a slug string or a plugin/key/version mapping.
func decodeTemplate(node *yaml.Node) (dataset.TemplateIdentity, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return dataset.Slug(node.Value), nil
	case yaml.MappingNode:
		var ref dataset.TemplateRef
		if err := node.Decode(&ref); err != nil {
			return nil, fmt.Errorf("parse template: %w", err)
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("parse template: line %d: expected slug or mapping", node.Line)
	}
}
