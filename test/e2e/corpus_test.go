package e2e

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildCorpus_oneQueryPerDocument(t *testing.T) {
	c := BuildCorpus()
	if len(c.Documents) != len(topics) || len(c.TestCases) != len(topics) {
		t.Fatalf("got %d documents and %d cases, want %d", len(c.Documents), len(c.TestCases), len(topics))
	}
	for i, tc := range c.TestCases {
		if tc.Query == "" || tc.ExpectedDocID == "" {
			t.Errorf("test case %d is incomplete: %+v", i, tc)
		}
	}
}

func TestBuildCorpus_phraseIsUnique(t *testing.T) {
	c := BuildCorpus()
	for _, tc := range c.TestCases {
		var holders []string
		for _, d := range c.Documents {
			if containsPhrase(d, tc.Query) {
				holders = append(holders, d.ID)
			}
		}
		if len(holders) != 1 || holders[0] != tc.ExpectedDocID {
			t.Errorf("phrase %q is held by %v, want only %s", tc.Query, holders, tc.ExpectedDocID)
		}
	}
}

func TestCorpus_WriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corpus")
	c := BuildCorpus()
	names, err := c.WriteFiles(dir, SupportedFileExtensions)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != len(c.Documents) {
		t.Fatalf("wrote %d files, want %d", len(names), len(c.Documents))
	}
	if names["handbook-02"] != "handbook-02"+SupportedFileExtensions[1] {
		t.Errorf("name = %s", names["handbook-02"])
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(c.Documents) {
		t.Errorf("directory has %d entries", len(entries))
	}
}

func TestContainsPhrase(t *testing.T) {
	d := E2EDocument{Title: "Remote Work", Content: "The remote work allowance covers internet."}
	if !containsPhrase(d, "Remote Work") || !containsPhrase(d, "allowance covers") {
		t.Error("expected phrase in title and content")
	}
	if containsPhrase(d, "parking") {
		t.Error("unexpected match")
	}
}
