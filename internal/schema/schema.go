// Package schema turns Go types into backend-ready JSON schema payloads.
//
// A component may supply its own shape by implementing Provider; otherwise
// Generate derives one reflectively from the struct definition. Adapters
// rewrite a generated shape into whatever dialect a provider backend
// expects.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Payload is a JSON schema description, ready for json.Marshal.
type Payload = map[string]any

// Provider supplies a hand-written shape instead of a generated one.
type Provider interface {
	JSONShape() Payload
}

var (
	ErrUnsupportedType = errors.New("schema: unsupported type")
	ErrNilValue        = errors.New("schema: nil value")
)

var timeType = reflect.TypeOf(time.Time{})

// Generate derives a JSON schema payload for v. Pointer types are
// unwrapped. If v implements Provider its own shape wins.
func Generate(v any) (Payload, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	if p, ok := v.(Provider); ok {
		return p.JSONShape(), nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return generateType(t, map[reflect.Type]bool{})
}

func generateType(t reflect.Type, seen map[reflect.Type]bool) (Payload, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return Payload{"type": "string", "format": "date-time"}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return Payload{"type": "string"}, nil
	case reflect.Bool:
		return Payload{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Payload{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return Payload{"type": "number"}, nil
	case reflect.Slice, reflect.Array:
		items, err := generateType(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return Payload{"type": "array", "items": items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedType, t.Key())
		}
		values, err := generateType(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return Payload{"type": "object", "additionalProperties": values}, nil
	case reflect.Interface:
		// opaque; accept any JSON value
		return Payload{}, nil
	case reflect.Struct:
		return generateStruct(t, seen)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t.Kind())
	}
}

func generateStruct(t reflect.Type, seen map[reflect.Type]bool) (Payload, error) {
	if seen[t] {
		return nil, fmt.Errorf("%w: recursive type %s", ErrUnsupportedType, t)
	}
	seen[t] = true
	defer delete(seen, t)

	properties := Payload{}
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitempty, skip := jsonName(field)
		if skip {
			continue
		}

		prop, err := generateType(field.Type, seen)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		if !omitempty && field.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}

	shape := Payload{"type": "object", "properties": properties}
	if len(required) > 0 {
		shape["required"] = required
	}
	return shape, nil
}

func jsonName(field reflect.StructField) (name string, omitempty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				omitempty = true
			}
		}
	}
	return name, omitempty, false
}

// Generator memoizes generated payloads per concrete type. Safe for
// concurrent use.
type Generator struct {
	cache *gocache.Cache
}

func NewGenerator() *Generator {
	return &Generator{cache: gocache.New(gocache.NoExpiration, 0)}
}

// ForValue returns the payload for v's type, generating it on first use.
func (g *Generator) ForValue(v any) (Payload, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	if p, ok := v.(Provider); ok {
		return p.JSONShape(), nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	key := t.PkgPath() + "." + t.String()
	if cached, ok := g.cache.Get(key); ok {
		return cached.(Payload), nil
	}
	shape, err := generateType(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, shape, gocache.NoExpiration)
	return shape, nil
}
