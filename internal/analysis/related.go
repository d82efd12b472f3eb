package analysis

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindRelatedFiles returns files likely related to the target: sibling
// Python sources (excluding the target itself and test files), followed by
// any existing test file for the target found in the conventional locations.
// The search order is: same directory, a "tests" subdirectory, a parent-level
// "tests" directory; each pattern contributes at most one path.
func FindRelatedFiles(targetPath string) []string {
	dir := filepath.Dir(targetPath)
	stem := strings.TrimSuffix(filepath.Base(targetPath), filepath.Ext(targetPath))

	var related []string

	entries, err := os.ReadDir(dir)
	if err == nil {
		var siblings []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
				continue
			}
			if entry.Name() == filepath.Base(targetPath) {
				continue
			}
			if strings.HasPrefix(entry.Name(), "test_") {
				continue
			}
			siblings = append(siblings, filepath.Join(dir, entry.Name()))
		}
		sort.Strings(siblings)
		related = append(related, siblings...)
	}

	testName := "test_" + stem + ".py"
	candidates := []string{
		filepath.Join(dir, testName),
		filepath.Join(dir, "tests", testName),
		filepath.Join(filepath.Dir(dir), "tests", testName),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			related = append(related, candidate)
		}
	}

	return related
}
