// Copyright 2025 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/sanitize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format of a configuration file.
type Format int

const (
	// JSON with comments and trailing commas.
	JSON Format = iota
	// YAML format.
	YAML
)

// FormatOf returns the configuration format based on the file name extension
// of the passed path: “.yaml” and “.yml” are YAML, everything else JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Binding binds the file at a source path to a logical target path.
type Binding struct {
	SourcePath string `json:"source-path" yaml:"source-path"`
	TargetPath string `json:"target-path" yaml:"target-path"`
}

// Config is the ordered list of file bindings.
type Config struct {
	FileBindings []Binding `json:"file-bindings" yaml:"file-bindings"`
}

// Load reads and validates the configuration from the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %w", fdshare.ErrConfiguration, path, err)
	}
	c, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse the passed configuration data in the specified format and validate it.
// Unknown fields are rejected.
func Parse(data []byte, format Format) (*Config, error) {
	var c Config
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: cannot parse: %w", fdshare.ErrConfiguration, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%w: cannot parse: %w", fdshare.ErrConfiguration, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate the configuration: source and target paths must not be empty,
// target paths must not try to escape their parent, and no two bindings may
// share the same target path or have one target path beneath another.
func (c *Config) Validate() error {
	targets := map[string]int{}
	for idx, binding := range c.FileBindings {
		if binding.SourcePath == "" {
			return fmt.Errorf("%w: binding #%d lacks a source path",
				fdshare.ErrConfiguration, idx)
		}
		// Check the target path using a stand-in parent: we don't know the
		// real parent yet, but whatever it will be, the path must stay below
		// it.
		target, err := sanitize.Under("/", binding.TargetPath)
		if err != nil {
			return fmt.Errorf("%w: binding #%d has invalid target path: %w",
				fdshare.ErrConfiguration, idx, err)
		}
		if other, ok := targets[target]; ok {
			return fmt.Errorf("%w: bindings #%d and #%d share the same target path %q",
				fdshare.ErrConfiguration, other, idx, binding.TargetPath)
		}
		targets[target] = idx
	}
	// A target path beneath another target path would be published through
	// the other target's symbolic link.
	for target, idx := range targets {
		for other, otherIdx := range targets {
			if strings.HasPrefix(other, target+"/") {
				return fmt.Errorf("%w: binding #%d has target path %q nested beneath the target path of binding #%d",
					fdshare.ErrConfiguration, otherIdx, c.FileBindings[otherIdx].TargetPath, idx)
			}
		}
	}
	return nil
}

// SourcePaths returns the source paths in binding order.
func (c *Config) SourcePaths() []string {
	paths := make([]string, 0, len(c.FileBindings))
	for _, binding := range c.FileBindings {
		paths = append(paths, binding.SourcePath)
	}
	return paths
}

// TargetPaths returns the target paths in binding order.
func (c *Config) TargetPaths() []string {
	paths := make([]string, 0, len(c.FileBindings))
	for _, binding := range c.FileBindings {
		paths = append(paths, binding.TargetPath)
	}
	return paths
}
