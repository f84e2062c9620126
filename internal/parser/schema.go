package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

// BuildReceiptJSONSchema returns the JSON-Schema (draft 2020-12) of the
// canonical receipt document as a generic map.
func BuildReceiptJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"name", "discount", "needs_review", "meta"},
		"properties": map[string]any{
			"name":         map[string]any{"type": "string", "minLength": 1},
			"quantity":     nullable("number"),
			"unit":         nullable("string"),
			"unit_price":   nullable("number"),
			"paid_amount":  nullable("number"),
			"discount":     map[string]any{"type": "number", "minimum": 0},
			"needs_review": map[string]any{"type": "boolean"},
			"is_food":      map[string]any{"type": "boolean"},
			"food_quality": map[string]any{"type": "string", "enum": constants.FoodQualityStrings()},
			"meta": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"quantity_raw":    map[string]any{"type": "string"},
					"unit_price_raw":  map[string]any{"type": "string"},
					"paid_amount_raw": map[string]any{"type": "string"},
					"discount_raw":    map[string]any{"type": "string"},
					"vat_code":        map[string]any{"type": "string", "enum": []string{"A", "B", "C", "D"}},
				},
			},
		},
		// non-food items never carry a food quality
		"if": map[string]any{
			"required":   []string{"is_food"},
			"properties": map[string]any{"is_food": map[string]any{"const": false}},
		},
		"then": map[string]any{"not": map[string]any{"required": []string{"food_quality"}}},
	}

	optionalString := nullable("string")
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"schema_version", "store", "timestamp", "currency", "total",
			"discount_total", "sgr_bottle_charge", "sgr_recovered_amount",
			"merchant", "items", "processing", "source",
		},
		"properties": map[string]any{
			"schema_version": map[string]any{"type": "integer", "minimum": constants.SchemaVersion, "maximum": constants.SchemaVersion},
			"store":          map[string]any{"type": "string", "minLength": 1},
			"timestamp": map[string]any{
				"type":    []string{"string", "null"},
				"pattern": `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`,
			},
			"currency":             map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`},
			"total":                map[string]any{"type": "number"},
			"discount_total":       map[string]any{"type": "number", "minimum": 0},
			"sgr_bottle_charge":    map[string]any{"type": "number", "minimum": 0},
			"sgr_recovered_amount": map[string]any{"type": "number", "minimum": 0},
			"merchant": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"name":    optionalString,
					"address": optionalString,
					"city":    optionalString,
					"cif":     optionalString,
				},
			},
			"items": map[string]any{"type": "array", "items": item},
			"processing": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"status", "warnings"},
				"properties": map[string]any{
					"status": map[string]any{"enum": []string{string(constants.StatusOK), string(constants.StatusWarn)}},
					"warnings": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []string{"code"},
							"properties": map[string]any{
								"code":   map[string]any{"type": "string", "enum": constants.WarningCodeStrings()},
								"detail": map[string]any{"type": "string"},
							},
						},
					},
					"error":      optionalString,
					"ocr_engine": map[string]any{"type": "string"},
				},
			},
			"source": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"file_name", "store_folder", "rel_path"},
				"properties": map[string]any{
					"file_name":    map[string]any{"type": "string", "minLength": 1},
					"store_folder": map[string]any{"type": "string"},
					"rel_path":     map[string]any{"type": "string"},
				},
			},
			"raw_text": map[string]any{"type": "string"},
		},
	}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(BuildReceiptJSONSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("receipt.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("receipt.json")
	})
	return schema, schemaErr
}

// Validate checks a successfully parsed receipt against the document
// schema. Failures are returned as a SCHEMA_INVALID *ParseError.
func Validate(r *entity.Receipt) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return NewParseError(CodeSchemaInvalid, "marshal receipt: "+err.Error(), r)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return NewParseError(CodeSchemaInvalid, "unmarshal receipt: "+err.Error(), r)
	}
	if err := s.Validate(v); err != nil {
		return NewParseError(CodeSchemaInvalid, err.Error(), r)
	}
	return nil
}
