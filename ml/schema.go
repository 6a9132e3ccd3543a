package ml

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// BundleSchema describes the persisted model bundle.
const BundleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://scorecard.local/model-bundle.schema.json",
  "title": "Scorecard model bundle",
  "type": "object",
  "required": ["version", "features", "mappings", "model", "scoring_params"],
  "additionalProperties": false,
  "properties": {
    "version": {"const": 1},
    "name": {"type": "string"},
    "trained_at": {"type": "string", "format": "date-time"},
    "risk_scheme": {"enum": ["four_tier", "agency"]},
    "features": {
      "type": "array",
      "items": {"type": "string", "pattern": "_woe$"},
      "minItems": 1
    },
    "mappings": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/mapping"}
    },
    "model": {
      "type": "object",
      "required": ["intercept", "coefficients"],
      "additionalProperties": false,
      "properties": {
        "intercept": {"type": "number"},
        "coefficients": {
          "type": "object",
          "additionalProperties": {"type": "number"}
        }
      }
    },
    "scoring_params": {
      "type": "object",
      "required": ["PDO", "BaseScore", "BaseOdds"],
      "additionalProperties": false,
      "properties": {
        "PDO": {"type": "number", "exclusiveMinimum": 0},
        "BaseScore": {"type": "number"},
        "BaseOdds": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "auc": {"type": "number", "minimum": 0, "maximum": 1},
        "train_samples": {"type": "integer", "minimum": 0},
        "test_samples": {"type": "integer", "minimum": 0},
        "iv_scores": {
          "type": "object",
          "additionalProperties": {"type": "number"}
        }
      }
    }
  },
  "$defs": {
    "bound": {
      "oneOf": [
        {"type": "number"},
        {"enum": ["-inf", "+inf", "inf"]}
      ]
    },
    "mapping": {
      "type": "object",
      "required": ["name", "kind", "iv"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "kind": {"enum": ["continuous", "categorical"]},
        "iv": {"type": "number", "minimum": 0},
        "bins": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["lower", "upper", "woe"],
            "additionalProperties": false,
            "properties": {
              "lower": {"$ref": "#/$defs/bound"},
              "upper": {"$ref": "#/$defs/bound"},
              "woe": {"type": "number"}
            }
          }
        },
        "categories": {
          "type": "object",
          "additionalProperties": {"type": "number"}
        }
      }
    }
  }
}`

const bundleSchemaURL = "model-bundle.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func bundleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(BundleSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse bundle schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(bundleSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add bundle schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(bundleSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateBundleJSON checks raw bundle bytes against BundleSchema.
func ValidateBundleJSON(data []byte) error {
	sch, err := bundleSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	return nil
}
