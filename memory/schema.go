package memory

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	recordSchemaURL = "https://instawebhooks.invalid/schema/sync-record.json"
	legacySchemaURL = "https://instawebhooks.invalid/schema/legacy-record.json"
)

// Escaped for embedding in a JSON string literal.
const timestampPattern = `^\\d{4}-\\d{2}-\\d{2}([T ]\\d{2}:\\d{2}(:\\d{2}(\\.\\d+)?)?)?(Z|[+-]\\d{2}:?\\d{2})?$`

var recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["sent_posts"],
  "properties": {
    "last_check": {"type": ["string", "null"], "pattern": "` + timestampPattern + `"},
    "sent_posts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["shortcode"],
        "properties": {
          "shortcode": {"type": "string", "minLength": 1},
          "timestamp": {"type": "string", "pattern": "` + timestampPattern + `"},
          "sent_at": {"type": "string", "pattern": "` + timestampPattern + `"},
          "type": {"type": "string"},
          "type_display": {"type": "string"},
          "is_video": {"type": "boolean"},
          "is_pinned": {"type": "boolean"},
          "caption_preview": {"type": "string"},
          "url": {"type": "string"}
        }
      }
    },
    "stats": {
      "type": "object",
      "properties": {
        "total_sent": {"type": "integer", "minimum": 0},
        "last_post_shortcode": {"type": ["string", "null"]},
        "last_post_timestamp": {"type": ["string", "null"]},
        "last_post_type": {"type": ["string", "null"]},
        "type_counts": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var legacySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["shortcode"],
  "not": {"required": ["sent_posts"]},
  "properties": {
    "shortcode": {"type": "string", "minLength": 1},
    "timestamp": {"type": ["string", "null"], "pattern": "` + timestampPattern + `"}
  }
}`

type schemas struct {
	record *jsonschema.Schema
	legacy *jsonschema.Schema
}

var (
	compiledOnce sync.Once
	compiled     schemas
	compileErr   error
)

func loadSchemas() (schemas, error) {
	compiledOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for url, src := range map[string]string{
			recordSchemaURL: recordSchema,
			legacySchemaURL: legacySchema,
		} {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
			if err != nil {
				compileErr = fmt.Errorf("parse schema %s: %w", url, err)
				return
			}
			if err := c.AddResource(url, doc); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", url, err)
				return
			}
		}
		if compiled.record, compileErr = c.Compile(recordSchemaURL); compileErr != nil {
			return
		}
		compiled.legacy, compileErr = c.Compile(legacySchemaURL)
	})
	return compiled, compileErr
}

type shape int

const (
	shapeUnknown shape = iota
	shapeCurrent
	shapeLegacyObject
)

// detectShape reports which known JSON layout data matches. The returned
// error describes why data matched neither.
func detectShape(data []byte) (shape, error) {
	s, err := loadSchemas()
	if err != nil {
		return shapeUnknown, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return shapeUnknown, err
	}
	recordErr := s.record.Validate(inst)
	if recordErr == nil {
		return shapeCurrent, nil
	}
	if s.legacy.Validate(inst) == nil {
		return shapeLegacyObject, nil
	}
	return shapeUnknown, recordErr
}
