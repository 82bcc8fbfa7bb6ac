package main

import (
	_ "embed"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults holds the compiled-in migration settings. It is never read from
// user input; tests build their own value with a shorter repository list.
type Defaults struct {
	Environment      string   `yaml:"environment"`
	SourceTagSuffix  string   `yaml:"sourceTagSuffix"`
	DestinationTag   string   `yaml:"destinationTag"`
	OverrideVariable string   `yaml:"overrideVariable"`
	List             []string `yaml:"repositories"`
}

func mustLoadDefaults() Defaults {
	d, err := parseDefaults(defaultsYAML)
	if err != nil {
		panic(err)
	}
	return d
}

func parseDefaults(b []byte) (Defaults, error) {
	var d Defaults
	if err := yaml.UnmarshalStrict(b, &d); err != nil {
		return Defaults{}, errors.Annotate(err, "parsing defaults")
	}
	return d, d.validate()
}

func (d Defaults) validate() error {
	if d.Environment == "" {
		return errors.NotValidf("empty reference environment")
	}
	if d.SourceTagSuffix == "" || d.DestinationTag == "" {
		return errors.NotValidf("empty tag convention")
	}
	if len(d.List) == 0 {
		return errors.NotValidf("empty repository list")
	}

	seen := make(map[string]struct{}, len(d.List))
	for _, repo := range d.List {
		if repo == "" {
			return errors.NotValidf("empty repository entry")
		}
		if _, dup := seen[repo]; dup {
			return errors.NotValidf("duplicate repository %q", repo)
		}
		seen[repo] = struct{}{}
	}
	return nil
}

// sourceTag is the per-region tag published in the workspace registry.
func (d Defaults) sourceTag(region string) string {
	return region + "-" + d.SourceTagSuffix
}

// repositories returns a copy so callers cannot reorder the compiled-in list.
func (d Defaults) repositories() []string {
	return append([]string(nil), d.List...)
}
