package loader

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Discover locates a source spreadsheet by trying each filename pattern in
// each search path, in order. The first pattern that yields any match wins;
// among multiple matches the lexicographically first is taken so repeated
// runs against the same directory pick the same file. Returns ErrNoFile when
// nothing matches anywhere.
func Discover(searchPaths, patterns []string) (string, error) {
	for _, dir := range searchPaths {
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return "", fmt.Errorf("bad file pattern %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				continue
			}
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", ErrNoFile
}
