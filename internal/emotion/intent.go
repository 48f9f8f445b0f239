package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Emotion payloads are validated where they are produced, before they reach
// the durable queue; the ingest side stays lenient and substitutes defaults
// for whatever is missing.
const emotionPayloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"session": {
			"type": "object",
			"properties": {
				"user_id": {"type": ["string", "null"]},
				"routine_slug": {"type": "string"},
				"duration_seconds": {"type": ["integer", "null"]},
				"device": {"type": "string"}
			}
		},
		"emotion": {
			"type": "object",
			"properties": {
				"color_hex": {"type": "string", "pattern": "^#[0-9A-Fa-f]{6}$"},
				"intensity": {"type": ["integer", "null"], "minimum": 0, "maximum": 100},
				"note": {}
			}
		}
	}
}`

var (
	emotionSchemaOnce sync.Once
	emotionSchema     *jsonschema.Schema
	emotionSchemaErr  error
)

func compiledEmotionSchema() (*jsonschema.Schema, error) {
	emotionSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(emotionPayloadSchema))
		if err != nil {
			emotionSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("emotion-payload.json", doc); err != nil {
			emotionSchemaErr = err
			return
		}
		emotionSchema, emotionSchemaErr = compiler.Compile("emotion-payload.json")
	})
	return emotionSchema, emotionSchemaErr
}

// ValidateEmotionPayload checks a raw emotion payload against the capture
// schema.
func ValidateEmotionPayload(payload []byte) error {
	schema, err := compiledEmotionSchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// NewEmotionIntent builds a validated, stamped write intent from a capture
// payload.
func NewEmotionIntent(payload EmotionPayload) (WriteIntent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WriteIntent{}, err
	}
	if err := ValidateEmotionPayload(raw); err != nil {
		return WriteIntent{}, err
	}
	return WriteIntent{
		IntentID:  uuid.NewString(),
		Type:      IntentTypeEmotion,
		Payload:   raw,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}
