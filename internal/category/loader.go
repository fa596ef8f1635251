package category

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// File is the top-level structure of a category YAML file.
//
//	categories:
//	  - id: password_reset
//	    label: Password Reset
//	    contact: account-security@techcorp.com
//	    exemplars:
//	      - forgot my password
type File struct {
	Categories []Entry `yaml:"categories"`
}

// Default returns the built-in table.
func Default() (*Table, error) {
	t, err := LoadFromReader(bytes.NewReader(defaultsYAML))
	if err != nil {
		return nil, fmt.Errorf("category: built-in defaults: %w", err)
	}
	return t, nil
}

// Load reads and validates a category table from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("category: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("category: load %q: %w", path, err)
	}
	return t, nil
}

// LoadFromReader parses and validates category YAML from r. Unknown keys and
// unknown category ids are rejected.
func LoadFromReader(r io.Reader) (*Table, error) {
	var cf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("category: decode yaml: %w", err)
	}
	return NewTable(cf.Categories)
}
