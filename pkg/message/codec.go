package message

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Delimiter opens and closes the metadata block of a message file.
const Delimiter = "---"

// Metadata is the open key/value block at the top of a message file.
// Values are the decoded JSON scalars or arrays found after each key.
type Metadata map[string]any

// Document is one parsed message file: metadata block plus trimmed body.
type Document struct {
	Metadata Metadata
	Body     string
}

var errUnterminatedBlock = errors.New("metadata block is not terminated")

// ErrInvalidKey is returned by Format for keys that would not parse back.
var ErrInvalidKey = errors.New("invalid metadata key")

// ValidKey reports whether key survives a Format/Parse round trip: non-empty,
// no surrounding whitespace, no ':' or line breaks, and not the delimiter.
func ValidKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	case strings.TrimSpace(key) != key:
		return fmt.Errorf("%w %q: surrounding whitespace", ErrInvalidKey, key)
	case strings.ContainsAny(key, ":\r\n"):
		return fmt.Errorf("%w %q: contains ':' or a line break", ErrInvalidKey, key)
	case key == Delimiter:
		return fmt.Errorf("%w %q: reserved delimiter", ErrInvalidKey, key)
	}
	return nil
}

// Parse splits a message file into its metadata block and body.
//
// Files that do not start with a delimiter line have empty metadata and the
// whole content as body. Metadata values that are not valid JSON are kept as
// raw strings.
func Parse(content string) (Document, error) {
	content = strings.TrimPrefix(content, "\ufeff")
	normalized := strings.ReplaceAll(content, "\r\n", "\n")

	firstLine, rest, _ := strings.Cut(normalized, "\n")
	if strings.TrimSpace(firstLine) != Delimiter {
		return Document{Metadata: Metadata{}, Body: strings.TrimSpace(normalized)}, nil
	}

	metadata := Metadata{}
	scanner := bufio.NewScanner(strings.NewReader(rest))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	consumed := 0
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		consumed += len(line) + 1

		if strings.TrimSpace(line) == Delimiter {
			closed = true
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, rawValue, ok := strings.Cut(line, ":")
		if !ok {
			return Document{}, fmt.Errorf("parse metadata line %q: missing ':' separator", line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return Document{}, fmt.Errorf("parse metadata line %q: empty key", line)
		}

		metadata[key] = decodeValue(strings.TrimSpace(rawValue))
	}
	if err := scanner.Err(); err != nil {
		return Document{}, fmt.Errorf("scan metadata block: %w", err)
	}
	if !closed {
		return Document{}, errUnterminatedBlock
	}

	body := ""
	if consumed < len(rest) {
		body = rest[consumed:]
	}

	return Document{Metadata: metadata, Body: strings.TrimSpace(body)}, nil
}

// Format renders metadata and body in the on-disk message format:
// delimiter, one JSON-encoded "key: value" per line, delimiter, blank line, body.
//
// id and timestamp are written first, remaining keys in lexical order.
func Format(metadata Metadata, body string) (string, error) {
	for key := range metadata {
		if err := ValidKey(key); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteString(Delimiter)
	b.WriteByte('\n')

	for _, key := range orderedKeys(metadata) {
		encoded, err := json.Marshal(metadata[key])
		if err != nil {
			return "", fmt.Errorf("encode metadata %q: %w", key, err)
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.Write(encoded)
		b.WriteByte('\n')
	}

	b.WriteString(Delimiter)
	b.WriteString("\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}

	return b.String(), nil
}

func decodeValue(raw string) any {
	if raw == "" {
		return ""
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}

	return value
}

func orderedKeys(metadata Metadata) []string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		if key == FieldID || key == FieldTimestamp {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	head := make([]string, 0, 2)
	for _, key := range []string{FieldID, FieldTimestamp} {
		if _, ok := metadata[key]; ok {
			head = append(head, key)
		}
	}

	return append(head, keys...)
}

// String returns the metadata value for key rendered as a string.
// Non-string scalars are formatted with their JSON representation.
func (m Metadata) String(key string) (string, bool) {
	value, ok := m[key]
	if !ok || value == nil {
		return "", false
	}

	switch typed := value.(type) {
	case string:
		return typed, true
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed), true
		}
		return string(encoded), true
	}
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for key, value := range m {
		out[key] = value
	}

	return out
}
