package dataset

import (
	"context"
	"fmt"
	"net/http"

	"datasetclient/pkg/apperrors"
)

// SubmitExport queues an asynchronous export job.
//
// The request is validated before any network I/O: a nil template, a blank
// slug, or a TemplateRef missing plugin, key or version fails with
// apperrors.ErrValidation.
func (c *Client) SubmitExport(ctx context.Context, req ExportRequest) (ExportHandle, error) {
	const op = "exports.submit"

	body, err := req.body()
	if err != nil {
		return ExportHandle{}, err
	}

	target, err := c.endpoint(op, "/exports")
	if err != nil {
		return ExportHandle{}, err
	}

	data, err := c.roundTrip(ctx, call{
		op:     op,
		method: http.MethodPost,
		target: target,
		body:   body,
	})
	if err != nil {
		return ExportHandle{}, err
	}

	handle, err := parseExport(op, data)
	if err != nil {
		return ExportHandle{}, err
	}

	template := body.Template.Slug
	if template == "" {
		template = TemplateRef{Plugin: body.Template.Plugin, Key: body.Template.Key, Version: body.Template.Version}.String()
	}
	c.metrics.RecordExportSubmitted(ctx, template)
	c.logger.Info("Export queued", "exportId", handle.ID, "template", template, "status", handle.Status)

	return handle, nil
}

// GetExport fetches the current status of an export. It has no side effects
// and may be called repeatedly; an unknown id fails with apperrors.ErrNotFound.
func (c *Client) GetExport(ctx context.Context, id string) (ExportHandle, error) {
	const op = "exports.get"

	target, err := c.endpoint(op, "/exports", pathParam{name: "id", value: id})
	if err != nil {
		return ExportHandle{}, err
	}

	data, err := c.roundTrip(ctx, call{
		op:     op,
		method: http.MethodGet,
		target: target,
		route:  apiPrefix + "/exports/{id}",
	})
	if err != nil {
		return ExportHandle{}, notFound(err, op, "export", id)
	}

	handle, err := parseExport(op, data)
	if err != nil {
		return ExportHandle{}, err
	}
	if handle.ID != id {
		return ExportHandle{}, apperrors.Protocol(op, fmt.Sprintf("requested export %s but service returned %s", id, handle.ID), nil)
	}
	return handle, nil
}
