package message

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Well-known metadata keys.
const (
	FieldID        = "id"
	FieldTimestamp = "timestamp"
	FieldFrom      = "from"
	FieldReplyTo   = "replyTo"
	FieldType      = "type"
)

// Field value types accepted in a FieldSpec.
const (
	TypeAny     = "any"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// ErrMissingField is wrapped by validation errors for absent required fields.
var ErrMissingField = errors.New("missing required metadata field")

// ErrFieldType is wrapped by validation errors for values of the wrong type.
var ErrFieldType = errors.New("metadata field has wrong type")

// Message is one parsed, validated mailbox file.
type Message struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	EndpointID string    `json:"endpoint_id"`
	Metadata   Metadata  `json:"metadata"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Filename returns the bare file name of the message source.
func (m Message) Filename() string {
	return filepath.Base(m.SourcePath)
}

// Type returns the message type tag, or "" when the metadata has none.
func (m Message) Type() string {
	value, ok := m.Metadata.String(FieldType)
	if !ok {
		return ""
	}

	return strings.TrimSpace(value)
}

// FieldSpec declares one metadata field an endpoint expects.
type FieldSpec struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required" yaml:"required"`
}

// ValidationError names the metadata field that failed validation.
type ValidationError struct {
	Field string
	Want  string
	err   error
}

func (e *ValidationError) Error() string {
	if errors.Is(e.err, ErrFieldType) {
		return fmt.Sprintf("metadata field %q must be of type %s", e.Field, e.Want)
	}

	return fmt.Sprintf("missing required metadata field %q", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Validate checks metadata against field specs in order and reports the first
// violation. Required fields must be present; present fields must match their
// declared type.
func Validate(metadata Metadata, specs []FieldSpec) error {
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}

		value, ok := metadata[name]
		if !ok {
			if spec.Required {
				return &ValidationError{Field: name, err: ErrMissingField}
			}
			continue
		}

		if !matchesType(value, spec.Type) {
			return &ValidationError{Field: name, Want: normalizeType(spec.Type), err: ErrFieldType}
		}
	}

	return nil
}

// ID derives the message identity: the metadata id when present and
// non-empty, otherwise the slash-separated path relative to root.
func ID(metadata Metadata, root string, path string) string {
	if id, ok := metadata.String(FieldID); ok && strings.TrimSpace(id) != "" {
		return id
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}

// MergeFieldSpecs returns base followed by extra; an extra spec with the same
// name replaces the base entry in place.
func MergeFieldSpecs(base []FieldSpec, extra []FieldSpec) []FieldSpec {
	merged := make([]FieldSpec, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))

	for _, spec := range append(append([]FieldSpec{}, base...), extra...) {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}
		spec.Name = name
		if i, ok := index[name]; ok {
			merged[i] = spec
			continue
		}
		index[name] = len(merged)
		merged = append(merged, spec)
	}

	return merged
}

func normalizeType(declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return TypeAny
	}

	return declared
}

func matchesType(value any, declared string) bool {
	switch normalizeType(declared) {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
