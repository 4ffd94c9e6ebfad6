// Package models contains domain models for topica.
package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// EmbeddingDim is the dimensionality of article embeddings and topic
// centroids, fixed by the external embedding service.
const EmbeddingDim = 768

// Vector is an embedding stored in a pgvector column. The wire format is the
// pgvector text representation "[x,y,z]", which also round-trips through a
// plain TEXT column under the sqlite dialector used in tests.
type Vector []float32

// Scan implements sql.Scanner.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}

	var s string
	switch val := value.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return fmt.Errorf("vector: cannot scan %T", value)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		*v = nil
		return nil
	}

	parsed, err := ParseVector(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return v.String(), nil
}

// String renders the pgvector text format "[x,y,z]".
func (v Vector) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// GormDataType implements schema.GormDataTypeInterface; without it gorm's
// field parser treats the slice type as a relation and schema parsing fails.
// The migrator still consults GormDBDataType below for the column DDL.
func (Vector) GormDataType() string {
	return "text"
}

// GormDBDataType implements schema.GormDBDataTypeInterface so the same model
// maps to vector(768) in Postgres and TEXT in the sqlite test database.
func (Vector) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("vector(%d)", EmbeddingDim)
	}
	return "text"
}

// ParseVector parses the pgvector text format "[x,y,z]".
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("vector: malformed literal %q", truncateForError(s))
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return Vector{}, nil
	}

	parts := strings.Split(body, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector: element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
