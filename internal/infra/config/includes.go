package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes overlays the files named in cfg.Includes onto cfg, so
// deployments can keep secrets such as channel tokens in a separate file.
// visited holds absolute paths already loaded and catches cycles.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("circular include of %q", abs)
			}
			visited[abs] = true

			if err := overlayFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveIncludePaths expands pattern relative to baseDir. Relative patterns
// may not climb out of baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
		if rel, err := filepath.Rel(baseDir, pattern); err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("path %q escapes config directory", pattern)
		}
	}
	pattern = filepath.Clean(pattern)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let overlayFile report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}

func overlayFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}
	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}
