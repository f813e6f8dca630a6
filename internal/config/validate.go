package config

import (
	"encoding/json"
	"io"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is the JSON Schema every config file is validated against
// before being decoded into Keys.
const Schema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "addr": {"type": "string"},
    "metrics-addr": {"type": "string"},
    "work-queue-rate-per-second": {"type": "number", "exclusiveMinimum": 0},
    "flush-interval-ms": {"type": "integer", "minimum": 0},
    "storage": {
      "type": "object",
      "properties": {
        "sqlite-path": {"type": "string"},
        "s3": {
          "type": "object",
          "properties": {
            "endpoint": {"type": "string"},
            "bucket": {"type": "string"},
            "access-key": {"type": "string"},
            "secret-key": {"type": "string"},
            "region": {"type": "string"},
            "use-path-style": {"type": "boolean"}
          },
          "required": ["endpoint", "bucket"]
        }
      },
      "required": ["sqlite-path"]
    },
    "nats": {
      "type": "object",
      "properties": {
        "url": {"type": "string"},
        "credentials-file": {"type": "string"}
      },
      "required": ["url"]
    },
    "subscription": {
      "type": "object",
      "properties": {
        "min-interval-seconds": {"type": "integer", "minimum": 0},
        "max-interval-seconds": {"type": "integer", "minimum": 0},
        "max-backoff-seconds": {"type": "integer", "minimum": 0}
      }
    },
    "auth": {
      "type": "object",
      "properties": {
        "disabled": {"type": "boolean"},
        "public-key": {"type": "string"},
        "private-key": {"type": "string"},
        "token-max-age-ms": {"type": "integer", "minimum": 0}
      }
    }
  },
  "required": ["storage", "nats"]
}`

// Validate compiles schema and checks instance against it, following
// the teacher's jsonschema.CompileString + sch.Validate shape.
func Validate(schema string, instance io.Reader) error {
	sch, err := jsonschema.CompileString("shadowd-config.json", schema)
	if err != nil {
		cclog.Fatalf("%#v", err)
	}

	raw, err := io.ReadAll(instance)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		cclog.Fatal(err)
	}

	return sch.Validate(v)
}
