package tools

import (
	"os"
	"path/filepath"

	"github.com/raphaelgruber/casegraph/internal/config"
)

// caseMarker names the file a case workspace keeps its case id in.
const caseMarker = ".casegraph-case"

// DetectCase determines the case a tool call applies to.
// Priority: explicit input > config default > case marker in the cwd.
func DetectCase(explicit string, cfg *config.Config) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil && cfg.DefaultCase != "" {
		return cfg.DefaultCase
	}
	return caseFromMarker()
}

// caseFromMarker reads the case id from the nearest marker file in the
// working directory or one of its parents.
func caseFromMarker() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, caseMarker))
		if err == nil {
			return firstLine(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func firstLine(data []byte) string {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			data = data[:i]
			break
		}
	}
	return string(data)
}
