// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"text/template"

	"github.com/z5labs/pdfrelay/internal/try"
)

// RenderTextTemplateOption configures a TextTemplateRenderer.
type RenderTextTemplateOption func(*TextTemplateRenderer)

// TemplateName names the template in errors. Default is "config".
func TemplateName(name string) RenderTextTemplateOption {
	return func(ttr *TextTemplateRenderer) {
		if name != "" {
			ttr.name = name
		}
	}
}

// TemplateFunc registers f under name, in addition to env and default.
func TemplateFunc(name string, f any) RenderTextTemplateOption {
	return func(ttr *TextTemplateRenderer) {
		ttr.funcs[name] = f
	}
}

// TextTemplateRenderer renders a config file written as a text/template
// on first Read. Only the env and default funcs are available to the
// template unless more are registered with [TemplateFunc].
type TextTemplateRenderer struct {
	src   io.Reader
	name  string
	funcs template.FuncMap

	once     sync.Once
	rendered *bytes.Reader
	err      error
}

// RenderTextTemplate returns a renderer over r.
func RenderTextTemplate(r io.Reader, opts ...RenderTextTemplateOption) *TextTemplateRenderer {
	ttr := &TextTemplateRenderer{
		src:  r,
		name: "config",
		funcs: template.FuncMap{
			"env":     Env,
			"default": Default,
		},
	}
	for _, opt := range opts {
		opt(ttr)
	}
	return ttr
}

// TemplateError is returned when a config template can not be parsed
// or executed. Op is either "parse" or "exec".
type TemplateError struct {
	Name  string
	Op    string
	Cause error
}

// Error implements the error interface.
func (e TemplateError) Error() string {
	return fmt.Sprintf("failed to %s config template %s: %s", e.Op, e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e TemplateError) Unwrap() error {
	return e.Cause
}

// Name returns the template name.
func (ttr *TextTemplateRenderer) Name() string {
	return ttr.name
}

// Read implements the io.Reader interface. A render failure is returned
// by every call.
func (ttr *TextTemplateRenderer) Read(b []byte) (int, error) {
	ttr.once.Do(func() {
		ttr.rendered, ttr.err = ttr.render()
	})
	if ttr.err != nil {
		return 0, ttr.err
	}
	return ttr.rendered.Read(b)
}

func (ttr *TextTemplateRenderer) render() (_ *bytes.Reader, err error) {
	defer try.Close(&err, ttr.src)

	src, err := io.ReadAll(ttr.src)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(ttr.name).Funcs(ttr.funcs).Parse(string(src))
	if err != nil {
		return nil, TemplateError{Name: ttr.name, Op: "parse", Cause: err}
	}

	var out bytes.Buffer
	err = tmpl.Execute(&out, nil)
	if err != nil {
		return nil, TemplateError{Name: ttr.name, Op: "exec", Cause: err}
	}
	return bytes.NewReader(out.Bytes()), nil
}
