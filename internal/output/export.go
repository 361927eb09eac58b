package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/stampede/internal/engine"
)

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, res *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// ExportJSON writes res to path, replacing any existing file.
func ExportJSON(path string, res *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
