// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"

	"github.com/z5labs/pdfrelay/internal/try"

	"gopkg.in/yaml.v3"
)

// Yaml is a Source parsed from a YAML document.
type Yaml struct {
	r io.Reader
}

// FromYaml returns a Source reading a YAML mapping from r. An empty
// document applies nothing, which lets override files be all comments.
func FromYaml(r io.Reader) Yaml {
	return Yaml{r: r}
}

// InvalidYamlError occurs if the document is not a YAML mapping.
// Name is set when the reader reports one, e.g. an *os.File or
// a TextTemplateRenderer.
type InvalidYamlError struct {
	Name  string
	Cause error
}

// Error implements the error interface.
func (e InvalidYamlError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid yaml: %s", e.Cause)
	}
	return fmt.Sprintf("invalid yaml in %s: %s", e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidYamlError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src Yaml) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}

	var m map[string]any
	err = yaml.Unmarshal(b, &m)
	if err != nil {
		return InvalidYamlError{Name: nameOf(src.r), Cause: err}
	}
	return Map(m).Apply(store)
}

func nameOf(r io.Reader) string {
	n, ok := r.(interface{ Name() string })
	if !ok {
		return ""
	}
	return n.Name()
}
