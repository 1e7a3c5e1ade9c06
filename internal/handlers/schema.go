package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ytakahashi/firetodo/internal/herr"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const maxBodyBytes = 64 << 10

// Schemas validates JSON request bodies.
type Schemas struct {
	credentials *jsonschema.Schema
	newTodo     *jsonschema.Schema
	todoUpdate  *jsonschema.Schema
	theme       *jsonschema.Schema
}

func NewSchemas() (*Schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	compile := func(name string) (*jsonschema.Schema, error) {
		data, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		url := "mem://schemas/" + name
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return schema, nil
	}

	var s Schemas
	var err error
	if s.credentials, err = compile("credentials.json"); err != nil {
		return nil, err
	}
	if s.newTodo, err = compile("new_todo.json"); err != nil {
		return nil, err
	}
	if s.todoUpdate, err = compile("todo_update.json"); err != nil {
		return nil, err
	}
	if s.theme, err = compile("theme.json"); err != nil {
		return nil, err
	}
	return &s, nil
}

// decode validates body against schema and unmarshals it into v.
func decode(schema *jsonschema.Schema, body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return herr.BadRequest(err, "error reading body")
	}
	if len(data) > maxBodyBytes {
		return herr.Invalid(fmt.Errorf("body exceeds %d bytes", maxBodyBytes), "Request body too large")
	}

	doc, err := unmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return herr.Invalid(err, "Request body is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return herr.Invalid(err, validationMessage(err))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return herr.BadRequest(err, "error decoding body")
	}
	return nil
}

// validationMessage returns the first leaf failure as "path: message".
func validationMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	path := strings.TrimPrefix(ve.InstanceLocation, "/")
	if path == "" {
		return ve.Message
	}
	return strings.ReplaceAll(path, "/", ".") + ": " + ve.Message
}

// unmarshalJSON decodes a raw JSON document for schema validation (numbers as
// json.Number, trailing data rejected), mirroring jsonschema v5's internal loader.
func unmarshalJSON(r io.Reader) (any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if t, _ := decoder.Token(); t != nil {
		return nil, fmt.Errorf("invalid character %v after top-level value", t)
	}
	return doc, nil
}
