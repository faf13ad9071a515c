package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"feedplatform/internal/addins"
	"feedplatform/internal/lib"
)

// addinFile is the layout of the addin configuration:
//
//	addins:
//	  - name: guid_by_content
//	    args:
//	      fields: [title, link]
//	  - name: collect_feed_data
type addinFile struct {
	Addins []struct {
		Name string    `yaml:"name"`
		Args yaml.Node `yaml:"args"`
	} `yaml:"addins"`
}

// LoadAddins reads the addin file at path and builds its declarations in
// order. A missing file declares no addins.
func LoadAddins(path string, catalog map[string]lib.Factory) ([]addins.Decl, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read addins file: %w", err)
	}
	decls, err := ParseAddins(data, catalog)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// ParseAddins builds addin declarations from YAML.
func ParseAddins(data []byte, catalog map[string]lib.Factory) ([]addins.Decl, error) {
	var file addinFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse addins: %w", err)
	}

	decls := make([]addins.Decl, 0, len(file.Addins))
	for i, a := range file.Addins {
		factory, ok := catalog[a.Name]
		if !ok {
			return nil, fmt.Errorf("addin %d: unknown name %q", i+1, a.Name)
		}
		args := a.Args
		decode := func(v any) error {
			if args.IsZero() {
				return nil
			}
			if err := args.Decode(v); err != nil {
				return fmt.Errorf("decode args: %w", err)
			}
			return nil
		}
		ext, err := factory(decode)
		if err != nil {
			return nil, fmt.Errorf("addin %d (%s): %w", i+1, a.Name, err)
		}
		decls = append(decls, addins.Use(ext))
	}
	return decls, nil
}
