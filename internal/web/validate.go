// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const maxBodyBytes = 1 << 20

// trimmedFields are whitespace-trimmed before validation.
var trimmedFields = []string{"name"}

// FieldError attributes a validation failure to one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validationError carries every field failure of one request body.
type validationError struct {
	fields []FieldError
}

func (e *validationError) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) error {
	return &validationError{fields: []FieldError{{Field: field, Message: msg}}}
}

var (
	schemaCache   sync.Map // reflect.Type -> *jschema.Schema
	schemaPrinter = message.NewPrinter(language.English)
)

// schemaFor reflects and compiles the JSON Schema of a request type.
func schemaFor(v any) (*jschema.Schema, error) {
	t := reflect.TypeOf(v)
	if cached, ok := schemaCache.Load(t); ok {
		sch, _ := cached.(*jschema.Schema)
		return sch, nil
	}

	r := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, oops.Code("SCHEMA_REFLECT_FAILED").With("type", t.String()).Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_REFLECT_FAILED").With("type", t.String()).Wrap(err)
	}

	url := t.Elem().Name() + ".json"
	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}

	schemaCache.Store(t, sch)
	return sch, nil
}

// decode reads a JSON body into dst, a pointer to a request struct, after
// validating it against the struct's schema.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	sch, err := schemaFor(dst)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fieldError("body", "request body could not be read")
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fieldError("body", "request body must be valid JSON")
	}

	if obj, ok := doc.(map[string]any); ok {
		for _, key := range trimmedFields {
			if s, ok := obj[key].(string); ok {
				obj[key] = strings.TrimSpace(s)
			}
		}
	}

	if err := validateDoc(sch, doc); err != nil {
		return err
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("REQUEST_DECODE_FAILED").Wrap(err)
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return fieldError("body", "request body does not match the expected shape")
	}
	return nil
}

func validateDoc(sch *jschema.Schema, doc any) error {
	if err := sch.Validate(doc); err != nil {
		var verr *jschema.ValidationError
		if errors.As(err, &verr) {
			return &validationError{fields: collectFieldErrors(verr)}
		}
		return oops.Code("SCHEMA_VALIDATE_FAILED").Wrap(err)
	}
	return nil
}

// newAccount holds the rules every account must satisfy at creation.
type newAccount struct {
	Name     string `json:"name" jsonschema:"minLength=2,maxLength=256"`
	Email    string `json:"email" jsonschema:"format=email"`
	Password string `json:"password" jsonschema:"minLength=6,maxLength=100"`
}

// ValidateNewAccount checks account fields against the registration rules
// for callers outside HTTP, such as the admin CLI. The name is trimmed first.
func ValidateNewAccount(name, email, password string) error {
	sch, err := schemaFor(&newAccount{})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(newAccount{Name: strings.TrimSpace(name), Email: email, Password: password})
	if err != nil {
		return oops.Code("REQUEST_DECODE_FAILED").Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("REQUEST_DECODE_FAILED").Wrap(err)
	}
	return validateDoc(sch, doc)
}

// collectFieldErrors flattens a validation tree into its leaf failures.
func collectFieldErrors(root *jschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}

		base := strings.Join(e.InstanceLocation, ".")
		switch k := e.ErrorKind.(type) {
		case *kind.Required:
			for _, name := range k.Missing {
				out = append(out, FieldError{Field: join(base, name), Message: "is required"})
			}
		case *kind.AdditionalProperties:
			for _, name := range k.Properties {
				out = append(out, FieldError{Field: join(base, name), Message: "is not allowed"})
			}
		default:
			field := base
			if field == "" {
				field = "body"
			}
			out = append(out, FieldError{Field: field, Message: e.ErrorKind.LocalizedString(schemaPrinter)})
		}
	}
	walk(root)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
