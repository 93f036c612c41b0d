// Package export writes aggregated sample records to tabular files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"nomadclient/internal/aggregate"
	"nomadclient/internal/attribution"
)

var header = []string{
	"upload_id", "upload_name", "sample_name", "lab_id", "upload_date",
	"author_id", "author_display_name", "cell_area", "efficiency",
}

// WriteCSV writes the records as CSV with a header row.
func WriteCSV(path string, records []aggregate.SampleRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.UploadID, r.UploadName, r.SampleName, r.LabID, r.UploadDate,
			r.AuthorID, r.AuthorDisplayName,
			strconv.FormatFloat(r.CellArea, 'f', -1, 64),
			strconv.FormatFloat(r.Efficiency, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row for upload %s: %w", r.UploadID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteXLSX writes the records as a single-sheet workbook.
func WriteXLSX(path string, records []aggregate.SampleRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Samples"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerRow := make([]interface{}, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.UploadID, r.UploadName, r.SampleName, r.LabID, r.UploadDate,
			r.AuthorID, r.AuthorDisplayName, r.CellArea, r.Efficiency,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for upload %s: %w", r.UploadID, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// ApplyOverrides returns a copy of records with the author fields replaced
// wherever a curated attribution override exists for the upload id.
func ApplyOverrides(records []aggregate.SampleRecord, overrides map[string]attribution.Override) []aggregate.SampleRecord {
	out := make([]aggregate.SampleRecord, len(records))
	copy(out, records)
	for i := range out {
		override, ok := overrides[out[i].UploadID]
		if !ok {
			continue
		}
		out[i].AuthorID = override.AuthorID
		out[i].AuthorDisplayName = override.AuthorDisplayName
		if out[i].AuthorDisplayName == "" {
			out[i].AuthorDisplayName = override.AuthorID
		}
	}
	return out
}
