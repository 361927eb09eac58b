// Package fixture holds the read-only test data shared by every VU.
//
// Data is loaded once during setup and never mutated afterwards, so reads
// need no locking.
package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

// Data is an immutable JSON document.
type Data struct {
	raw  []byte
	root gjson.Result
	rows []gjson.Result
}

// Empty returns a fixture with no content.
func Empty() *Data {
	return &Data{root: gjson.Result{}}
}

// Load reads a JSON or YAML fixture file. Failures are setup errors.
func Load(path string) (*Data, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, runerr.Setup("load fixture", fmt.Errorf("failed to read %s: %w", path, err))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		content, err = yamlToJSON(content)
		if err != nil {
			return nil, runerr.Setup("load fixture", fmt.Errorf("failed to parse %s: %w", path, err))
		}
	}

	d, err := Parse(content)
	if err != nil {
		return nil, runerr.Setup("load fixture", fmt.Errorf("%s: %w", path, err))
	}
	return d, nil
}

// Parse wraps a JSON document.
func Parse(content []byte) (*Data, error) {
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("fixture is not valid JSON")
	}
	raw := make([]byte, len(content))
	copy(raw, content)
	d := &Data{raw: raw, root: gjson.ParseBytes(raw)}
	if d.root.IsArray() {
		d.rows = d.root.Array()
	}
	return d, nil
}

func yamlToJSON(content []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(content, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalize(v))
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

// Get returns the value at a gjson path. An empty path returns the root.
func (d *Data) Get(path string) gjson.Result {
	if d == nil {
		return gjson.Result{}
	}
	if path == "" {
		return d.root
	}
	return d.root.Get(path)
}

// Len returns the number of rows when the root is an array, else 0.
func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// Row returns element i of a root array, wrapping around its length.
func (d *Data) Row(i int64) gjson.Result {
	n := int64(d.Len())
	if n == 0 {
		return gjson.Result{}
	}
	idx := i % n
	if idx < 0 {
		idx += n
	}
	return d.rows[idx]
}

// Raw returns the document bytes.
func (d *Data) Raw() []byte {
	if d == nil {
		return nil
	}
	return d.raw
}
