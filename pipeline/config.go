package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// SourceName is the name under which the source collection is referenced by
// views and reported in snapshots.
const SourceName = "source"

// supportedVersions is the range of config schema versions this package reads.
const supportedVersions = ">= 1.0.0, < 2.0.0"

var (
	ErrUnsupportedVersion = errors.New("unsupported config version")
	ErrInvalidConfig      = errors.New("invalid pipeline config")
)

// Config describes a source collection, the views derived from it and the
// mutations to apply to the source.
type Config struct {
	Version string       `yaml:"version" toml:"version" json:"version"`
	Source  SourceConfig `yaml:"source" toml:"source" json:"source"`
	Views   []ViewConfig `yaml:"views" toml:"views" json:"views"`
	Steps   []Step       `yaml:"steps" toml:"steps" json:"steps"`
}

// SourceConfig describes the source collection.
type SourceConfig struct {
	// IDAttribute names the attribute holding the domain id. Defaults to "id".
	IDAttribute string `yaml:"id_attribute" toml:"id_attribute" json:"id_attribute"`
	// Comparator is an attribute name, prefixed with "-" for descending order.
	Comparator string           `yaml:"comparator" toml:"comparator" json:"comparator"`
	Records    []map[string]any `yaml:"records" toml:"records" json:"records"`
	// RecordsFile is read by Load, relative to the config file, when Records
	// is empty. It is ignored otherwise.
	RecordsFile string `yaml:"records_file" toml:"records_file" json:"records_file"`
}

// ViewConfig describes one view. Exactly one of Filter and Map is set.
type ViewConfig struct {
	Name string `yaml:"name" toml:"name" json:"name"`
	// From names the view this one observes. Empty means the source.
	From       string        `yaml:"from" toml:"from" json:"from"`
	Filter     *FilterConfig `yaml:"filter" toml:"filter" json:"filter"`
	Map        *MapConfig    `yaml:"map" toml:"map" json:"map"`
	Comparator string        `yaml:"comparator" toml:"comparator" json:"comparator"`
}

// FilterConfig is a filter criterion. Exactly one field is set.
type FilterConfig struct {
	Property string         `yaml:"property" toml:"property" json:"property"`
	Path     []string       `yaml:"path" toml:"path" json:"path"`
	Matcher  map[string]any `yaml:"matcher" toml:"matcher" json:"matcher"`
}

// MapConfig is a conversion. Exactly one of Property, Path and Fields is set.
type MapConfig struct {
	Property string   `yaml:"property" toml:"property" json:"property"`
	Path     []string `yaml:"path" toml:"path" json:"path"`
	// Fields maps derived attribute names to source attribute names.
	Fields      map[string]string `yaml:"fields" toml:"fields" json:"fields"`
	IDAttribute string            `yaml:"id_attribute" toml:"id_attribute" json:"id_attribute"`
}

// Load reads a pipeline config. The format follows the file extension.
func Load(path string) (*Config, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := decode(format, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	if len(cfg.Source.Records) == 0 && cfg.Source.RecordsFile != "" {
		recordsPath := cfg.Source.RecordsFile
		if !filepath.IsAbs(recordsPath) {
			recordsPath = filepath.Join(filepath.Dir(path), recordsPath)
		}
		if cfg.Source.Records, err = loadRecords(recordsPath); err != nil {
			return nil, err
		}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRecords reads a records file: a list of attribute maps, or a document
// with a top-level "records" list.
func loadRecords(path string) ([]map[string]any, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	var doc any
	if err := decode(format, data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode records %s: %w", path, err)
	}
	if m, ok := doc.(map[string]any); ok {
		doc = m["records"]
	}
	list, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: records file %s holds no list of records", ErrInvalidConfig, path)
	}

	records := make([]map[string]any, 0, len(list))
	for i, item := range list {
		attrs, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d in %s is a %T, not a map", ErrInvalidConfig, i, path, item)
		}
		records = append(records, attrs)
	}

	return records, nil
}

func (c *Config) normalize() {
	normalize(c.Source.Records)
	for _, v := range c.Views {
		if v.Filter != nil {
			normalize(v.Filter.Matcher)
		}
	}
	for i := range c.Steps {
		c.Steps[i].normalize()
	}
}

// Validate checks the config for consistency. It does not resolve view
// dependencies; Build does.
func (c *Config) Validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Views))
	for i, v := range c.Views {
		if err := v.validate(); err != nil {
			return fmt.Errorf("view %d: %w", i, err)
		}
		if seen[v.Name] {
			return fmt.Errorf("%w: duplicate view name %q", ErrInvalidConfig, v.Name)
		}
		seen[v.Name] = true
	}

	for i, s := range c.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	return nil
}

func checkVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: version is required", ErrUnsupportedVersion)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedVersion, err)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, version, supportedVersions)
	}

	return nil
}

func (v ViewConfig) validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: view name is required", ErrInvalidConfig)
	}
	if v.Name == SourceName {
		return fmt.Errorf("%w: view name %q is reserved", ErrInvalidConfig, SourceName)
	}
	if (v.Filter == nil) == (v.Map == nil) {
		return fmt.Errorf("%w: view %q needs exactly one of filter and map", ErrInvalidConfig, v.Name)
	}
	if v.Filter != nil && count(v.Filter.Property != "", len(v.Filter.Path) > 0, len(v.Filter.Matcher) > 0) != 1 {
		return fmt.Errorf("%w: filter of view %q needs exactly one of property, path and matcher", ErrInvalidConfig, v.Name)
	}
	if v.Map != nil && count(v.Map.Property != "", len(v.Map.Path) > 0, len(v.Map.Fields) > 0) != 1 {
		return fmt.Errorf("%w: map of view %q needs exactly one of property, path and fields", ErrInvalidConfig, v.Name)
	}

	return nil
}

func count(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}

	return n
}
