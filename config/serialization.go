package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcuadros/go-defaults"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/peterbourgon/mergemap"
	"github.com/xeipuuv/gojsonschema"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

//go:embed schema.json
var schema string

// DefaultPath is the location of the configuration file used when none is
// given explicitly.
func DefaultPath() string {
	configFolder := os.Getenv("XDG_CONFIG_HOME")
	if configFolder == "" {
		homeFolder := os.Getenv("HOME")
		if homeFolder == "" {
			homeFolder, _ = homedir.Dir()
		}
		if homeFolder != "" {
			configFolder = filepath.Join(homeFolder, ".config")
		}
	}
	return filepath.Join(configFolder, "childproc.yml")
}

// Defaults returns a Config holding only default values.
func Defaults() *Config {
	c := new(Config)
	defaults.SetDefaults(c)
	return c
}

// Load reads the configuration file at path, or at DefaultPath if path is
// empty, and applies overrides on top of it. Overrides use the same keys as
// the file. A missing default file is not an error; a missing explicit one
// is.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	c := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := c.mergeInYAML(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if len(overrides) > 0 {
		data, err := json.Marshal(overrides)
		if err != nil {
			return nil, err
		}
		if err := validateJSON(data); err != nil {
			return nil, fmt.Errorf("command line overrides: %w", err)
		}
		if err := c.MergeInJSON(data); err != nil {
			return nil, err
		}
	}

	if c.WorkingDirectory, err = homedir.Expand(c.WorkingDirectory); err != nil {
		return nil, fmt.Errorf("cannot expand working directory %q: %w", c.WorkingDirectory, err)
	}
	if _, err := c.KillAfterDuration(); err != nil {
		return nil, err
	}
	if _, err := c.MonitorIntervalDuration(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) mergeInYAML(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateJSON(j); err != nil {
		return err
	}
	return c.MergeInJSON(j)
}

// MergeInJSON merges the JSON object data over c; keys absent from data keep
// their current values.
func (c *Config) MergeInJSON(data []byte) error {
	// Round trip c through a map so that the two documents can be merged
	// key by key rather than replacing c wholesale.
	m1 := map[string]interface{}{}
	m2 := map[string]interface{}{}
	m1bytes, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(m1bytes, &m1); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &m2); err != nil {
		return err
	}
	mergedBytes, err := json.Marshal(mergemap.Merge(m1, m2))
	if err != nil {
		return err
	}
	return json.Unmarshal(mergedBytes, c)
}

func validateJSON(input []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// Show writes c as YAML.
func (c *Config) Show(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes c to path as YAML, creating the parent directory if needed.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := c.Show(&buf); err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o664); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
