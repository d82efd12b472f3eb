package analysis

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindRelatedFilesSiblings(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "calc.py")
	writeFile(t, target, "def add():\n    pass\n")
	writeFile(t, filepath.Join(dir, "utils.py"), "")
	writeFile(t, filepath.Join(dir, "api.py"), "")
	writeFile(t, filepath.Join(dir, "test_other.py"), "")
	writeFile(t, filepath.Join(dir, "readme.md"), "")

	related := FindRelatedFiles(target)

	want := []string{
		filepath.Join(dir, "api.py"),
		filepath.Join(dir, "utils.py"),
	}
	if diff := cmp.Diff(want, related); diff != "" {
		t.Errorf("related files mismatch (-want +got):\n%s", diff)
	}
}

func TestFindRelatedFilesExistingTests(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "pkg", "calc.py")
	writeFile(t, target, "")
	writeFile(t, filepath.Join(root, "pkg", "tests", "test_calc.py"), "")
	writeFile(t, filepath.Join(root, "tests", "test_calc.py"), "")

	related := FindRelatedFiles(target)

	found := map[string]bool{}
	for _, r := range related {
		found[r] = true
	}
	if !found[filepath.Join(root, "pkg", "tests", "test_calc.py")] {
		t.Errorf("tests subdirectory candidate missing: %v", related)
	}
	if !found[filepath.Join(root, "tests", "test_calc.py")] {
		t.Errorf("parent tests directory candidate missing: %v", related)
	}
}

func TestFindRelatedFilesMissingDirectory(t *testing.T) {
	related := FindRelatedFiles(filepath.Join(t.TempDir(), "absent", "mod.py"))
	if len(related) != 0 {
		t.Errorf("related = %v, want empty", related)
	}
}
