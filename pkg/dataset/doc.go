// Package dataset is a client for the ColonyCore Dataset Service.
//
// It covers the template catalog (list, get, validate, run) and the
// asynchronous export lifecycle:
//
//	c, err := dataset.New(dataset.Config{BaseURL: "https://colony.example.com", APIKey: key})
//	handle, err := c.SubmitExport(ctx, dataset.ExportRequest{
//		Template: dataset.Slug("frog/population@1.0.0"),
//		Formats:  []dataset.Format{dataset.FormatCSV},
//	})
//	handle, err = c.WaitForExport(ctx, handle.ID, dataset.DefaultPollInterval, dataset.DefaultWaitTimeout)
//	if handle.Status == dataset.StatusSucceeded {
//		for _, a := range handle.Artifacts {
//			_, err = c.SaveArtifact(ctx, a.URL, filepath.Join("out", handle.ID+"."+string(a.Format)))
//		}
//	}
//
// Errors are *apperrors.Error values classified with errors.Is against the
// apperrors sentinels. A failed export is not an error; inspect
// ExportHandle.Status and ExportHandle.Error instead.
package dataset
