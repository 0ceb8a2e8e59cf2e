// Package schema validates serialized events against the JSON Schema of
// their topic. The schemas for the built-in topics are embedded.
package schema

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"regwatch/internal/domain/entity"
)

//go:embed schemas/*.json
var builtin embed.FS

// builtinFiles maps each topic to its embedded schema file.
var builtinFiles = map[string]string{
	"regwatch.documents":      "schemas/documents.json",
	"regwatch.sources.health": "schemas/sources_health.json",
	"regwatch.alerts":         "schemas/alerts.json",
}

// ValidationError lists the schema violations of one payload.
type ValidationError struct {
	Topic  string
	Errors []FieldError
}

// FieldError is a single violation at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "payload violates %s schema:", e.Topic)
	for i, fe := range e.Errors {
		if i > 0 {
			sb.WriteString(";")
		}
		fmt.Fprintf(&sb, " %s: %s", fe.Field, fe.Message)
	}
	return sb.String()
}

// FailureKind classifies schema violations as validation failures.
func (e *ValidationError) FailureKind() entity.FailureKind { return entity.FailureValidation }

// Registry holds one compiled schema per topic. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*gojsonschema.Schema)}
}

// NewBuiltinRegistry returns a registry with the embedded schemas of the
// documents, sources.health and alerts topics.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for topic, file := range builtinFiles {
		raw, err := builtin.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", file, err)
		}
		if err := r.Register(topic, raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles schemaJSON and binds it to topic, replacing any previous schema.
func (r *Registry) Register(topic string, schemaJSON []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", topic, err)
	}
	r.mu.Lock()
	r.schemas[topic] = compiled
	r.mu.Unlock()
	return nil
}

// HasSchema reports whether topic has a registered schema.
func (r *Registry) HasSchema(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[topic]
	return ok
}

// Topics returns the topics with a registered schema.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	return out
}

// Validate checks payload against the schema of topic. A topic without a
// schema is an error; callers decide whether to check HasSchema first.
func (r *Registry) Validate(topic string, payload []byte) error {
	r.mu.RLock()
	compiled, ok := r.schemas[topic]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for topic %s", topic)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationError{Topic: topic, Errors: []FieldError{{Field: "(root)", Message: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Topic: topic, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}
