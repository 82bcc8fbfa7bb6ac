package main

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedDefaults(t *testing.T) {
	d := mustLoadDefaults()

	assert.Equal(t, "AzureML-sklearn-0.24-ubuntu18.04-py37-cpu", d.Environment)
	assert.Equal(t, "AZUREML_CR_BOOTSTRAPPER_CONFIG_OVERRIDE", d.OverrideVariable)
	assert.Equal(t, []string{
		"boot/vm-bootstrapper/binimage/linux",
		"exe/execution-wrapper/installed",
		"cap/lifecycler/installed",
		"cap/cs-capability/installed",
		"cap/data-capability/installed",
		"cap/hosttools-capability/installed",
	}, d.repositories())
	assert.Equal(t, "eastus-stable", d.sourceTag("eastus"))
	assert.Equal(t, "stable", d.DestinationTag)
}

func TestRepositoriesIsACopy(t *testing.T) {
	d := testDefaults("a/b", "c/d")

	repos := d.repositories()
	repos[0] = "x/y"

	assert.Equal(t, []string{"a/b", "c/d"}, d.List)
}

func TestParseDefaultsRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no environment": "sourceTagSuffix: stable\ndestinationTag: stable\nrepositories: [a]\n",
		"no repos":       "environment: e\nsourceTagSuffix: stable\ndestinationTag: stable\n",
		"duplicate":      "environment: e\nsourceTagSuffix: stable\ndestinationTag: stable\nrepositories: [a, a]\n",
		"empty entry":    "environment: e\nsourceTagSuffix: stable\ndestinationTag: stable\nrepositories: ['']\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseDefaults([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)
		})
	}

	_, err := parseDefaults([]byte("environment: e\nunknown: 1\n"))
	assert.Error(t, err)
}
