package registry

import (
	"os"
	"path/filepath"
	"strings"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // path supplied by the operator, not request-derived
}

func fileExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
