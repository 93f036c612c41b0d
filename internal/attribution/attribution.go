// Package attribution persists manually curated author corrections for
// uploads. The override file is independent of the live cache: it is the
// authoritative source for display attribution and is joined onto sample
// records by the consumer.
package attribution

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultFile is the current override file name.
const DefaultFile = "nomad_author_attributions.csv"

// LegacyFile is the previous-generation file name. When a save happens under
// the current name while this file still exists, its contents are replaced
// with a migration notice.
const LegacyFile = "nomad_samples_with_authors.csv"

// Override is one manually corrected author attribution for an upload.
type Override struct {
	AuthorID          string `json:"author_id"`
	AuthorDisplayName string `json:"author_display_name"`
	OverrideDate      string `json:"override_date"`
}

var currentHeader = []string{"upload_id", "author_id", "author_display_name", "override_date"}

// schema identifies which column layout a file was written with. Detected
// once from the header row at load time; rows are normalized onto the
// current Override shape immediately.
type schema int

const (
	schemaUnknown schema = iota
	schemaCurrent
	schemaLegacy // main_author / main_author_name columns
)

// Load reads attribution overrides from the given file. A missing file
// yields an empty map; when the file under the current name is absent, a
// legacy-named sibling is consulted instead. Leading '#' comment lines are
// filtered before parsing and legacy column names are mapped onto the
// current schema. Load never returns an error; failures are logged and
// degrade to whatever could be read.
func Load(path string) map[string]Override {
	overrides := make(map[string]Override)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		legacyPath := filepath.Join(filepath.Dir(path), LegacyFile)
		if legacyPath != path {
			data, err = os.ReadFile(legacyPath)
		}
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read attribution file", "path", path, "error", err)
		}
		return overrides
	}

	rows, err := parseRows(data)
	if err != nil {
		slog.Warn("failed to parse attribution file", "path", path, "error", err)
		return overrides
	}
	if len(rows) == 0 {
		return overrides
	}

	fileSchema, columns := detectSchema(rows[0])
	if fileSchema == schemaUnknown {
		slog.Warn("attribution file has an unrecognized header", "path", path)
		return overrides
	}

	for _, row := range rows[1:] {
		uploadID := column(row, columns["upload_id"])
		if uploadID == "" {
			continue
		}
		override := Override{
			AuthorID:          column(row, columns["author_id"]),
			AuthorDisplayName: column(row, columns["author_display_name"]),
			OverrideDate:      column(row, columns["override_date"]),
		}
		if override.AuthorDisplayName == "" {
			override.AuthorDisplayName = override.AuthorID
		}
		overrides[uploadID] = override
	}

	return overrides
}

// Save writes the overrides to the given file: two descriptive comment lines
// followed by tabular data, rows ordered by upload id. When a legacy-named
// sibling still exists its data is replaced with a short migration notice.
// Failures are logged; the return value reports success.
func Save(path string, overrides map[string]Override) bool {
	var buf bytes.Buffer
	buf.WriteString("# NOMAD author attribution overrides\n")
	buf.WriteString("# Applied on top of live repository data; edit with care.\n")

	w := csv.NewWriter(&buf)
	if err := w.Write(currentHeader); err != nil {
		slog.Warn("failed to encode attribution header", "error", err)
		return false
	}

	uploadIDs := make([]string, 0, len(overrides))
	for uploadID := range overrides {
		uploadIDs = append(uploadIDs, uploadID)
	}
	sort.Strings(uploadIDs)

	for _, uploadID := range uploadIDs {
		override := overrides[uploadID]
		displayName := override.AuthorDisplayName
		if displayName == "" {
			displayName = override.AuthorID
		}
		date := override.OverrideDate
		if date == "" {
			date = time.Now().Format("2006-01-02")
		}
		if err := w.Write([]string{uploadID, override.AuthorID, displayName, date}); err != nil {
			slog.Warn("failed to encode attribution row", "upload_id", uploadID, "error", err)
			return false
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		slog.Warn("failed to encode attribution data", "error", err)
		return false
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		slog.Warn("failed to write attribution file", "path", path, "error", err)
		return false
	}

	retireLegacyFile(path)
	return true
}

// retireLegacyFile overwrites a lingering legacy-named sibling with a
// migration notice so stale data cannot be picked up again. Destructive on
// purpose: the legacy file's contents are replaced, not appended to.
func retireLegacyFile(path string) {
	legacyPath := filepath.Join(filepath.Dir(path), LegacyFile)
	if legacyPath == path {
		return
	}
	if _, err := os.Stat(legacyPath); err != nil {
		return
	}
	notice := fmt.Sprintf("# This file has been migrated to %s on %s.\n# It is no longer read or written.\n",
		filepath.Base(path), time.Now().Format("2006-01-02"))
	if err := os.WriteFile(legacyPath, []byte(notice), 0o644); err != nil {
		slog.Warn("failed to write migration notice to legacy file", "path", legacyPath, "error", err)
		return
	}
	slog.Info("retired legacy attribution file", "path", legacyPath)
}

// Watch invokes onChange whenever the attribution file is written, created
// or removed. The returned stop function releases the watcher.
func Watch(path string, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so recreation of the file is seen too.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("attribution watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// parseRows strips leading '#' comment lines and parses the remainder as CSV.
func parseRows(data []byte) ([][]string, error) {
	lines := strings.Split(string(data), "\n")
	start := 0
	for start < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[start]), "#") {
		start++
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines[start:], "\n")))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

// detectSchema resolves the file's column layout from its header row and
// returns the column index for each current field name.
func detectSchema(header []string) (schema, map[string]int) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.ToLower(name))] = i
	}

	columns := map[string]int{
		"upload_id":           -1,
		"author_id":           -1,
		"author_display_name": -1,
		"override_date":       -1,
	}
	if i, ok := index["upload_id"]; ok {
		columns["upload_id"] = i
	} else {
		return schemaUnknown, nil
	}
	if i, ok := index["override_date"]; ok {
		columns["override_date"] = i
	}

	if i, ok := index["author_id"]; ok {
		columns["author_id"] = i
		if j, ok := index["author_display_name"]; ok {
			columns["author_display_name"] = j
		}
		return schemaCurrent, columns
	}

	// One generation back: main_author / main_author_name.
	if i, ok := index["main_author"]; ok {
		columns["author_id"] = i
		if j, ok := index["main_author_name"]; ok {
			columns["author_display_name"] = j
		}
		return schemaLegacy, columns
	}

	return schemaUnknown, nil
}

func column(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
