package attribution

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadMissingFile verifies a nonexistent file yields an empty map without error
func TestLoadMissingFile(t *testing.T) {
	overrides := Load(filepath.Join(t.TempDir(), "does-not-exist.csv"))
	if overrides == nil {
		t.Fatal("Load should return an empty map, not nil")
	}
	if len(overrides) != 0 {
		t.Errorf("Expected empty map, got %d entries", len(overrides))
	}
}

// TestSaveLoadRoundTrip verifies every field survives a save/load cycle exactly
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)

	in := map[string]Override{
		"up-1": {AuthorID: "u-100", AuthorDisplayName: "Jane Doe", OverrideDate: "2024-03-01"},
		"up-2": {AuthorID: "u-200", AuthorDisplayName: "John Roe", OverrideDate: "2024-04-15"},
	}
	if !Save(path, in) {
		t.Fatal("Save should report success")
	}

	out := Load(path)
	if len(out) != len(in) {
		t.Fatalf("Expected %d overrides, got %d", len(in), len(out))
	}
	for uploadID, want := range in {
		got, ok := out[uploadID]
		if !ok {
			t.Fatalf("Missing override for %s", uploadID)
		}
		if got.AuthorID != want.AuthorID {
			t.Errorf("%s: expected author_id %s, got %s", uploadID, want.AuthorID, got.AuthorID)
		}
		if got.AuthorDisplayName != want.AuthorDisplayName {
			t.Errorf("%s: expected display name %s, got %s", uploadID, want.AuthorDisplayName, got.AuthorDisplayName)
		}
		if got.OverrideDate != want.OverrideDate {
			t.Errorf("%s: expected date %s, got %s", uploadID, want.OverrideDate, got.OverrideDate)
		}
	}
}

// TestSaveWritesCommentHeader verifies the file starts with two '#' lines
func TestSaveWritesCommentHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	if !Save(path, map[string]Override{"up-1": {AuthorID: "u-1"}}) {
		t.Fatal("Save should report success")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected at least 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "#") || !strings.HasPrefix(lines[1], "#") {
		t.Errorf("First two lines should be comments, got %q / %q", lines[0], lines[1])
	}
}

// TestLoadLegacyColumns verifies main_author/main_author_name map onto the current schema
func TestLoadLegacyColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), LegacyFile)
	content := "upload_id,main_author,main_author_name,override_date\n" +
		"up-9,u-900,Old Name,2023-12-01\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write legacy file: %v", err)
	}

	overrides := Load(path)
	got, ok := overrides["up-9"]
	if !ok {
		t.Fatal("Legacy row should be loaded")
	}
	if got.AuthorID != "u-900" {
		t.Errorf("Expected author_id u-900, got %s", got.AuthorID)
	}
	if got.AuthorDisplayName != "Old Name" {
		t.Errorf("Expected display name Old Name, got %s", got.AuthorDisplayName)
	}
	if got.OverrideDate != "2023-12-01" {
		t.Errorf("Expected date 2023-12-01, got %s", got.OverrideDate)
	}
}

// TestLoadFiltersCommentLines verifies leading '#' lines are ignored
func TestLoadFiltersCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	content := "# generated file\n# do not edit\n" +
		"upload_id,author_id,author_display_name,override_date\n" +
		"up-1,u-1,Name One,2024-01-01\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	overrides := Load(path)
	if len(overrides) != 1 {
		t.Fatalf("Expected 1 override, got %d", len(overrides))
	}
}

// TestLoadDisplayNameFallsBackToID verifies a blank display name becomes the author id
func TestLoadDisplayNameFallsBackToID(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	content := "upload_id,author_id,author_display_name,override_date\n" +
		"up-1,u-1,,2024-01-01\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	got := Load(path)["up-1"]
	if got.AuthorDisplayName != "u-1" {
		t.Errorf("Expected display name to fall back to u-1, got %q", got.AuthorDisplayName)
	}
}

// TestLoadFallsBackToLegacyFileName verifies the legacy-named sibling is read
// when the current file is absent
func TestLoadFallsBackToLegacyFileName(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, LegacyFile)
	content := "upload_id,main_author,override_date\nup-5,u-500,2023-06-01\n"
	if err := os.WriteFile(legacy, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write legacy file: %v", err)
	}

	overrides := Load(filepath.Join(dir, DefaultFile))
	got, ok := overrides["up-5"]
	if !ok {
		t.Fatal("Load should fall back to the legacy file name")
	}
	if got.AuthorID != "u-500" {
		t.Errorf("Expected author_id u-500, got %s", got.AuthorID)
	}
	// No display name column at all: fall back to the id.
	if got.AuthorDisplayName != "u-500" {
		t.Errorf("Expected display name u-500, got %s", got.AuthorDisplayName)
	}
}

// TestSaveRetiresLegacyFile verifies a lingering legacy file is overwritten
// with a migration notice
func TestSaveRetiresLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, LegacyFile)
	oldContent := "upload_id,main_author,override_date\nup-5,u-500,2023-06-01\n"
	if err := os.WriteFile(legacy, []byte(oldContent), 0o644); err != nil {
		t.Fatalf("Failed to write legacy file: %v", err)
	}

	path := filepath.Join(dir, DefaultFile)
	if !Save(path, map[string]Override{"up-5": {AuthorID: "u-500"}}) {
		t.Fatal("Save should report success")
	}

	data, err := os.ReadFile(legacy)
	if err != nil {
		t.Fatalf("Legacy file should still exist: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "u-500,") || strings.Contains(text, "main_author") {
		t.Error("Legacy data should be replaced, not preserved")
	}
	if !strings.Contains(text, "migrated") {
		t.Errorf("Legacy file should hold a migration notice, got %q", text)
	}

	// The migration notice itself must parse as an empty override set.
	if got := Load(legacy); len(got) != 0 {
		t.Errorf("Migration notice should load as empty, got %d entries", len(got))
	}
}

// TestLoadUnrecognizedHeader verifies an unknown schema degrades to empty
func TestLoadUnrecognizedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte("foo,bar\n1,2\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if got := Load(path); len(got) != 0 {
		t.Errorf("Unknown header should load as empty, got %d entries", len(got))
	}
}
