// Package rendition pre-builds named image renditions by running one contributed
// command per definition and stores the outputs in the picture multi-view field.
package rendition

import (
	"errors"
	"fmt"
	"slices"
)

// ProviderName is the provider every pre-built rendition definition declares.
const ProviderName = "StoredPictureRenditionProvider"

// ReservedNames are the built-in view titles rendition definitions must not reuse.
var ReservedNames = []string{"Medium", "Original", "Small", "Thumbnail", "OriginalJpeg"}

var (
	// ErrEmptyName is returned for definitions without a name.
	ErrEmptyName = errors.New("rendition definition has no name")
	// ErrReservedName is returned for definitions named like a built-in view.
	ErrReservedName = errors.New("rendition name is reserved for a built-in view")
	// ErrDuplicateDefinition is returned when two definitions share a name.
	ErrDuplicateDefinition = errors.New("duplicate rendition definition")
)

// Definition describes one rendition. Name doubles as the name of the command
// contribution producing it.
type Definition struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	Provider    string `yaml:"provider"`
}

// Registry holds the loaded rendition definitions in declaration order.
type Registry struct {
	byName      map[string]Definition
	definitions []Definition
}

// NewRegistry validates and registers the definitions.
func NewRegistry(definitions []Definition) (*Registry, error) {
	registry := &Registry{
		byName:      make(map[string]Definition, len(definitions)),
		definitions: make([]Definition, 0, len(definitions)),
	}

	for _, definition := range definitions {
		if definition.Name == "" {
			return nil, ErrEmptyName
		}

		if slices.Contains(ReservedNames, definition.Name) {
			return nil, fmt.Errorf("%w: %s", ErrReservedName, definition.Name)
		}

		if _, exists := registry.byName[definition.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDefinition, definition.Name)
		}

		registry.byName[definition.Name] = definition
		registry.definitions = append(registry.definitions, definition)
	}

	return registry, nil
}

// Lookup returns the definition registered under name.
func (registry *Registry) Lookup(name string) (Definition, bool) {
	definition, ok := registry.byName[name]

	return definition, ok
}

// ForProvider returns the definitions declaring the provider.
func (registry *Registry) ForProvider(provider string) []Definition {
	var out []Definition

	for _, definition := range registry.definitions {
		if definition.Provider == provider {
			out = append(out, definition)
		}
	}

	return out
}

// All returns every definition.
func (registry *Registry) All() []Definition {
	return slices.Clone(registry.definitions)
}
