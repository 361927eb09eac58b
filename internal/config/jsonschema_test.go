package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

func TestValidateSchemaAcceptsExample(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte(loginYAML), "run.yaml"))

	raw := `{"vus": 1, "duration": 30, "scenario": {"requests": [{"url": "http://localhost/"}]}}`
	assert.NoError(t, ValidateSchema([]byte(raw), "run.json"))
}

func TestValidateSchemaReportsLocations(t *testing.T) {
	raw := `
vus: -1
duration: soon
stages:
  - {duration: 1m, target: 5, mode: exponential}
thresholds:
  http_req_failed: [{abortOnFail: true}]
scenario:
  requests:
    - {url: /, retries: 3}
`
	err := ValidateSchema([]byte(raw), "run.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := verrs.Fields()
	assert.Contains(t, fields, "vus")
	assert.Contains(t, fields, "duration")
	assert.Contains(t, fields, "stages.0.mode")
	assert.Contains(t, fields, "thresholds.http_req_failed.0")
	assert.Contains(t, fields, "scenario.requests.0")
}

func TestValidateSchemaRejectsUnparseable(t *testing.T) {
	err := ValidateSchema([]byte("vus: [1"), "run.yaml")
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))

	err = ValidateSchema([]byte(""), "run.yaml")
	assert.Error(t, err)
}

func TestSchemaIsEmbedded(t *testing.T) {
	assert.Contains(t, Schema(), `"scenario"`)
}
