package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// UpdateGoldenEnv rewrites golden files instead of comparing when set.
const UpdateGoldenEnv = "CRM_UPDATE_GOLDEN"

// CompareWithGolden compares actual with testdata/golden/name. A missing
// golden file is created from actual.
func CompareWithGolden(t *testing.T, name string, actual []byte) {
	t.Helper()

	path := GoldenPath(name)
	expected, err := os.ReadFile(path)
	switch {
	case os.Getenv(UpdateGoldenEnv) != "", os.IsNotExist(err):
		writeGolden(t, path, actual)
		return
	case err != nil:
		t.Fatalf("read golden %s: %v", path, err)
	}

	if !bytes.Equal(actual, expected) {
		t.Errorf("output mismatch for %s:\n--- golden\n%s\n--- actual\n%s", path, expected, actual)
	}
}

func writeGolden(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create golden dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write golden %s: %v", path, err)
	}
	t.Logf("golden %s written", path)
}

// GoldenPath is relative to the calling package's testdata directory.
func GoldenPath(name string) string {
	return filepath.Join("testdata", "golden", name)
}
