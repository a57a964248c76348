package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteDefaultFile when the target exists
var ErrConfigExists = errors.New("config file already exists")

var sectionComments = map[string]string{
	"repositories": "Local git checkouts by name. branch limits searches to that branch's history.",
	"cache":        "SQLite commit cache shared by all repositories.",
	"matching":     "Commit matcher thresholds.",
	"search":       "Staged search limits. Stages accept a best confidence strictly above their threshold.",
	"dependency":   "Dependency planning. Edges are drawn above strong_threshold.",
	"performance":  "Concurrency and git limits.",
	"output":       "Reports and logs. Logs never go to stdout.",
	"advisor":      "Patch advisor: auto uses openai when an API key is set, rule otherwise.\nThe key is best supplied through OPENAI_API_KEY.",
}

// WriteDefault writes the default configuration as commented YAML.
// Example repositories are included so the file is ready to edit.
func WriteDefault(w io.Writer) error {
	cfg := Default()
	cfg.Repositories = map[string]Repository{
		"mainline": {Path: "/path/to/linux"},
		"5.10":     {Path: "/path/to/linux-stable", Branch: "linux-5.10.y"},
	}

	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return enc.Close()
}

// WriteDefaultFile writes the default configuration to path. An existing
// file is only replaced when overwrite is set.
func WriteDefaultFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteDefault(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
