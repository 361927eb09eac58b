package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

//go:embed schema.json
var schemaSource string

const schemaURL = "stampede-config.json"

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// Schema returns the embedded JSON schema document.
func Schema() string {
	return schemaSource
}

func runSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
			compileErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateSchema checks the structure of raw configuration data against the
// embedded JSON schema. YAML is converted to JSON first. Every violation is
// reported as a ValidationError whose field is the JSON pointer of the
// offending value.
func ValidateSchema(data []byte, path string) error {
	schema, err := runSchema()
	if err != nil {
		return err
	}

	doc, err := toJSONValue(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return runerr.Config("validate schema", err)
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			errs := &ValidationErrors{}
			extractValidationErrors(verr, errs)
			if !errs.HasErrors() {
				errs.Add("", verr.Error())
			}
			return runerr.Config("validate schema", errs)
		}
		return runerr.Config("validate schema", err)
	}
	return nil
}

// extractValidationErrors collects the leaf errors of a jsonschema.ValidationError.
func extractValidationErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		errs.Add(strings.ReplaceAll(field, "/", "."), err.Message)
		return
	}
	for _, cause := range err.Causes {
		extractValidationErrors(cause, errs)
	}
}

// toJSONValue decodes data into the generic form the schema validator
// expects, with numbers kept as json.Number.
func toJSONValue(data []byte, isJSON bool) (interface{}, error) {
	raw := data
	if !isJSON {
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		b, err := json.Marshal(normalize(v))
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// normalize converts map[interface{}]interface{} nodes into JSON-compatible maps.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
