package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_patternAndFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha document")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "beta document")
	writeFile(t, filepath.Join(dir, "empty.txt"), "   \n  ")
	writeFile(t, filepath.Join(dir, "ignored.md"), "not matched")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")

	l := New(nil)
	res, err := l.Load(context.Background(), dir, "*.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Files != 3 {
		t.Errorf("Files = %d, want 3", res.Files)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("Documents = %d, want 2 (blank file skipped)", len(res.Documents))
	}
	for _, d := range res.Documents {
		if d.ID == "" || d.Source == "" || d.Metadata[MetaTitle] == nil {
			t.Errorf("document missing provenance: %+v", d)
		}
		if d.Page != 0 {
			t.Errorf("plain text should be unpaged, got page %d", d.Page)
		}
	}

	res, err = l.Load(context.Background(), dir, "*pdf")
	if err != nil {
		t.Fatalf("Load pdf: %v", err)
	}
	if len(res.Documents) != 0 || len(res.Failures) != 1 {
		t.Fatalf("broken pdf: docs=%d failures=%d", len(res.Documents), len(res.Failures))
	}
	if res.Failures[0].Path != filepath.Join(dir, "broken.pdf") {
		t.Errorf("failure path = %s", res.Failures[0].Path)
	}
}

func TestLoad_nonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "nested", "deep.txt"), "deep")

	res, err := New(nil, WithRecursive(false)).Load(context.Background(), dir, "*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 1 || res.Documents[0].Content != "top" {
		t.Errorf("non-recursive load = %+v", res.Documents)
	}
}

func TestLoad_spreadsheetPages(t *testing.T) {
	dir := t.TempDir()
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "first sheet")
	if _, err := f.NewSheet("Second"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Second", "A1", "second sheet")
	if err := f.SaveAs(filepath.Join(dir, "book.xlsx")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := New(nil).Load(context.Background(), dir, "*.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected one document per sheet, got %d", len(res.Documents))
	}
	if res.Documents[0].Page != 1 || res.Documents[1].Page != 2 {
		t.Errorf("pages = %d, %d", res.Documents[0].Page, res.Documents[1].Page)
	}
	if res.Documents[0].ID == res.Documents[1].ID {
		t.Error("pages should have distinct IDs")
	}
	if res.Documents[1].Metadata[MetaPageLabel] != "Second" {
		t.Errorf("page label = %v", res.Documents[1].Metadata[MetaPageLabel])
	}
}

func TestLoad_errors(t *testing.T) {
	dir := t.TempDir()
	l := New(nil)
	if _, err := l.Load(context.Background(), filepath.Join(dir, "missing"), "*.pdf"); err == nil {
		t.Error("expected error for missing directory")
	}
	file := filepath.Join(dir, "file.txt")
	writeFile(t, file, "x")
	if _, err := l.Load(context.Background(), file, "*.txt"); err == nil {
		t.Error("expected error for non-directory")
	}
	if _, err := l.Load(context.Background(), dir, "["); err == nil {
		t.Error("expected error for malformed pattern")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx, dir, "*.txt"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		path, pattern string
		want          bool
	}{
		{"/c/a.pdf", "*.pdf", true},
		{"/c/sub/a.pdf", "*pdf", true},
		{"/c/a.txt", "*.pdf", false},
		{"/c/sub/a.pdf", "sub/*.pdf", true},
		{"/c/other/a.pdf", "sub/*.pdf", false},
	}
	for _, tt := range tests {
		if got := Match("/c", tt.path, tt.pattern); got != tt.want {
			t.Errorf("Match(%s, %s) = %v, want %v", tt.path, tt.pattern, got, tt.want)
		}
	}
}
