package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzLoadEnvFile feeds random env-file content to the loader and checks
// that every returned pair has a trimmed, non-empty key.
func FuzzLoadEnvFile(f *testing.F) {
	f.Add("A=1\nB=2")
	f.Add("# comment\nexport TOKEN=abc\n\n  PORT = 8080  ")
	f.Add("export =x\nexport\nnovalue\n=bad")
	f.Add("URL=http://h/?q=a=b")

	f.Fuzz(func(t *testing.T, content string) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		pairs, err := LoadEnvFile(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		lines := strings.Count(content, "\n") + 1
		if len(pairs) > lines {
			t.Fatalf("%d pairs from %d lines", len(pairs), lines)
		}
		for _, kv := range pairs {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" || k != strings.TrimSpace(k) {
				t.Fatalf("bad pair %q", kv)
			}
		}
	})
}

func TestLoadEnvFileExportPrefix(t *testing.T) {
	p := writeFile(t, ".env", "export TOKEN=abc\nexport  SPACED = yes\nPLAIN=1\n")
	pairs, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"TOKEN=abc", "SPACED=yes", "PLAIN=1"}
	if strings.Join(pairs, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", pairs, want)
	}
}
