// Package contrib loads the command-line and rendition contributions: the built-in set
// merged with an optional YAML file.
package contrib

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/rendition"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrUnnamedContribution is returned for entries without a name.
var ErrUnnamedContribution = errors.New("contribution has no name")

// Contributions are the commands and rendition definitions available to the pipeline.
type Contributions struct {
	Commands   []commandline.Command  `yaml:"commands"`
	Renditions []rendition.Definition `yaml:"renditions"`
}

// Defaults returns the built-in contributions.
func Defaults() (Contributions, error) {
	return Parse(defaultsYAML)
}

// Parse decodes contributions from YAML.
func Parse(data []byte) (Contributions, error) {
	var contributions Contributions

	decodeErr := yaml.Unmarshal(data, &contributions)
	if decodeErr != nil {
		return Contributions{}, fmt.Errorf("failed to decode contributions: %w", decodeErr)
	}

	for _, command := range contributions.Commands {
		if command.Name == "" {
			return Contributions{}, fmt.Errorf("%w: command %q", ErrUnnamedContribution, command.Executable)
		}
	}

	for _, definition := range contributions.Renditions {
		if definition.Name == "" {
			return Contributions{}, fmt.Errorf("%w: rendition", ErrUnnamedContribution)
		}
	}

	return contributions, nil
}

// Load returns the built-in contributions overridden by the file at path. An empty path
// returns the built-in set.
func Load(path string) (Contributions, error) {
	defaults, defaultsErr := Defaults()
	if defaultsErr != nil {
		return Contributions{}, defaultsErr
	}

	if path == "" {
		return defaults, nil
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return Contributions{}, fmt.Errorf("failed to read contributions %s: %w", path, readErr)
	}

	overrides, parseErr := Parse(data)
	if parseErr != nil {
		return Contributions{}, fmt.Errorf("%s: %w", path, parseErr)
	}

	return Merge(defaults, overrides), nil
}

// Merge applies overrides on base by name. Overridden entries keep their position; new
// entries are appended in order. A rendition definition without a provider keeps the
// stored-picture provider.
func Merge(base, overrides Contributions) Contributions {
	merged := Contributions{
		Commands:   append([]commandline.Command(nil), base.Commands...),
		Renditions: append([]rendition.Definition(nil), base.Renditions...),
	}

	for _, command := range overrides.Commands {
		merged.Commands = upsert(merged.Commands, command, func(c commandline.Command) string { return c.Name })
	}

	for _, definition := range overrides.Renditions {
		if definition.Provider == "" {
			definition.Provider = rendition.ProviderName
		}

		merged.Renditions = upsert(merged.Renditions, definition, func(d rendition.Definition) string { return d.Name })
	}

	return merged
}

func upsert[T any](items []T, item T, name func(T) string) []T {
	for index := range items {
		if name(items[index]) == name(item) {
			items[index] = item

			return items
		}
	}

	return append(items, item)
}
