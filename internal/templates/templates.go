package templates

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var rawTemplates []byte

// Template is a ready-made research configuration the UI offers before
// the user customizes keywords.
type Template struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Criteria    []string `yaml:"criteria" json:"criteria"`
}

var (
	loadOnce sync.Once
	loaded   []Template
	loadErr  error
)

// All returns the built-in research templates.
func All() ([]Template, error) {
	loadOnce.Do(func() {
		var doc struct {
			Templates []Template `yaml:"templates"`
		}
		if err := yaml.Unmarshal(rawTemplates, &doc); err != nil {
			loadErr = fmt.Errorf("templates: parse embedded yaml: %w", err)
			return
		}
		for i, t := range doc.Templates {
			if strings.TrimSpace(t.ID) == "" || len(t.Criteria) == 0 {
				loadErr = fmt.Errorf("templates: entry %d missing id or criteria", i)
				return
			}
		}
		loaded = doc.Templates
	})
	return loaded, loadErr
}

// ByID returns (nil, nil) when no template matches.
func ByID(id string) (*Template, error) {
	all, err := All()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, nil
}
