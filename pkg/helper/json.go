package helper

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func WriteJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func WriteYAML(w io.Writer, data interface{}) error { return yaml.NewEncoder(w).Encode(data) }

// Write encode data by format: json or yaml
func Write(w io.Writer, format string, data interface{}) error {
	switch format {
	case "", "json":
		return WriteJSON(w, data)
	case "yaml", "yml":
		return WriteYAML(w, data)
	default:
		return errors.Errorf("unsupported output format: %s", format)
	}
}
