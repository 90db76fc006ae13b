// Package playbook resolves playbook definitions from a directory of
// YAML documents.
package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloudflair/agentlink/pkg/errors"
)

// Definition is a single playbook document. ID, Name, and Description are
// the display fields; Body carries the full parsed document and is opaque
// to everything but the execution engine.
type Definition struct {
	ID          string
	Name        string
	Description string
	Body        map[string]any
	Path        string
}

// Info is the display projection of a definition.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Info returns the display projection of the definition.
func (d Definition) Info() Info {
	return Info{ID: d.ID, Name: d.Name, Description: d.Description}
}

// LoadFile parses a single playbook document.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	return parse(data, path)
}

func parse(data []byte, path string) (Definition, error) {
	var body map[string]any
	if err := yaml.Unmarshal(data, &body); err != nil {
		return Definition{}, errors.New(errors.CodeMalformedDefinition, "parse playbook document", err).
			WithContext("path", path)
	}
	id := stringField(body, "id")
	if strings.TrimSpace(id) == "" {
		return Definition{}, errors.New(errors.CodeMalformedDefinition, "playbook document has no id", nil).
			WithContext("path", path)
	}
	return Definition{
		ID:          id,
		Name:        stringField(body, "name"),
		Description: stringField(body, "description"),
		Body:        body,
		Path:        path,
	}, nil
}

func stringField(body map[string]any, key string) string {
	if value, ok := body[key].(string); ok {
		return value
	}
	return ""
}

func isPlaybookFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("playbook %q not found", id), nil)
}
