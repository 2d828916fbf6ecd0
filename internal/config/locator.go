package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// exactNames is the closed set of accepted configuration file names. Any
// file ending in canvasSuffix is also accepted.
var exactNames = map[string]struct{}{
	"canvas-config.yaml":   {},
	"canvas-config.yml":    {},
	"pipeline-config.yaml": {},
}

const canvasSuffix = "-canvas-config.yaml"

// aggregator marker files: a directory containing one of these is treated
// as the workspace aggregator project.
var aggregatorMarkers = []string{"canvas-workspace.yaml", "settings.gradle", "settings.gradle.kts"}

// Locate searches for the single pipeline configuration file reachable from
// moduleDir. Layers are tried in order: the module directory itself, its
// config/ subdirectory, src/main/resources/, then the nearest ancestor
// aggregator directory and its config/ subdirectory. The first layer with
// exactly one candidate wins; multiple candidates at one layer are
// ambiguous. The boolean result is false when no layer has a candidate.
func Locate(moduleDir string) (string, bool, error) {
	layers := []string{
		moduleDir,
		filepath.Join(moduleDir, "config"),
		filepath.Join(moduleDir, "src", "main", "resources"),
	}
	if agg, ok := findAggregator(moduleDir); ok {
		layers = append(layers, agg, filepath.Join(agg, "config"))
	}

	for _, layer := range layers {
		candidates, err := candidatesIn(layer)
		if err != nil {
			return "", false, err
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], true, nil
		default:
			return "", false, canvaserrors.NewInvalidConfiguration(
				"ambiguous pipeline configuration", nil).
				WithContext(map[string]any{"layer": layer, "candidates": candidates})
		}
	}
	return "", false, nil
}

func candidatesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, canvaserrors.NewInvalidConfiguration("scan configuration directory", err).
			WithContext(map[string]any{"dir": dir})
	}

	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := exactNames[name]; ok || strings.HasSuffix(name, canvasSuffix) {
			found = append(found, filepath.Join(dir, name))
		}
	}
	sort.Strings(found)
	return found, nil
}

func findAggregator(moduleDir string) (string, bool) {
	dir, err := filepath.Abs(moduleDir)
	if err != nil {
		return "", false
	}
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
		for _, marker := range aggregatorMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, true
			}
		}
	}
}
