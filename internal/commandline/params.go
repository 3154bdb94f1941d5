package commandline

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known parameter names shared by every conversion command.
const (
	ParamSourceFilePath = "sourceFilePath"
	ParamTargetFilePath = "targetFilePath"
)

var (
	// ErrMissingParameter is returned when a template references an unset parameter.
	ErrMissingParameter = errors.New("missing command parameter")
	// ErrUnbalancedQuotes is returned for templates with an odd number of quotes.
	ErrUnbalancedQuotes = errors.New("unbalanced quotes in parameter template")
)

// Parameters holds the named values substituted into a command template.
type Parameters map[string]string

// NewParameters returns an empty parameter set.
func NewParameters() Parameters {
	return make(Parameters)
}

// Set assigns a named parameter and returns the set for chaining.
func (params Parameters) Set(name, value string) Parameters {
	params[name] = value

	return params
}

// Expand splits the template into arguments and substitutes every #{name} placeholder.
// Quoted sections form a single argument and substituted values are never split.
func Expand(template string, params Parameters) ([]string, error) {
	tokens, splitErr := splitTemplate(template)
	if splitErr != nil {
		return nil, splitErr
	}

	args := make([]string, 0, len(tokens))

	for _, token := range tokens {
		arg, substituteErr := substitute(token, params)
		if substituteErr != nil {
			return nil, substituteErr
		}

		args = append(args, arg)
	}

	return args, nil
}

func splitTemplate(template string) ([]string, error) {
	var (
		tokens   []string
		current  strings.Builder
		inQuotes bool
		inToken  bool
	)

	for _, r := range template {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			inToken = true
		case (r == ' ' || r == '\t' || r == '\n') && !inQuotes:
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()

				inToken = false
			}
		default:
			current.WriteRune(r)

			inToken = true
		}
	}

	if inQuotes {
		return nil, fmt.Errorf("%w: %s", ErrUnbalancedQuotes, template)
	}

	if inToken {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}

func substitute(token string, params Parameters) (string, error) {
	var out strings.Builder

	rest := token
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			out.WriteString(rest)

			return out.String(), nil
		}

		end := strings.Index(rest[start:], "}")
		if end < 0 {
			out.WriteString(rest)

			return out.String(), nil
		}

		name := rest[start+2 : start+end]

		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}

		out.WriteString(rest[:start])
		out.WriteString(value)
		rest = rest[start+end+1:]
	}
}
