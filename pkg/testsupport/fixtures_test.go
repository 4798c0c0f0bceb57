package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestGoldenPath(t *testing.T) {
	if got, want := GoldenPath("out.csv"), filepath.Join("testdata", "golden", "out.csv"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCompareWithGolden_CreatesMissingFile(t *testing.T) {
	chdir(t, t.TempDir())

	CompareWithGolden(t, "new.txt", []byte("first run"))

	data, err := os.ReadFile(GoldenPath("new.txt"))
	if err != nil {
		t.Fatalf("expected golden file to be created: %v", err)
	}
	if string(data) != "first run" {
		t.Errorf("unexpected golden content %q", data)
	}

	CompareWithGolden(t, "new.txt", []byte("first run"))
}

func TestCompareWithGolden_Update(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(UpdateGoldenEnv, "1")

	writeGolden(t, GoldenPath("out.txt"), []byte("old"))
	CompareWithGolden(t, "out.txt", []byte("new"))

	data, _ := os.ReadFile(GoldenPath("out.txt"))
	if string(data) != "new" {
		t.Errorf("expected golden to be rewritten, got %q", data)
	}
}
