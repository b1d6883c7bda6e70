package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const maxBodySize = 1 << 20

const startScanSchema = `{
	"type": "object",
	"properties": {
		"paths": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"profile": {"type": "string", "minLength": 1}
	},
	"oneOf": [
		{"required": ["paths"]},
		{"required": ["profile"]}
	],
	"additionalProperties": false
}`

const setDatabaseSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

var (
	startScanLoader   = gojsonschema.NewStringLoader(startScanSchema)
	setDatabaseLoader = gojsonschema.NewStringLoader(setDatabaseSchema)
)

// readValidated reads the request body and checks it against schema
func readValidated(r *http.Request, schema gojsonschema.JSONLoader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("request body too large (max: %d bytes)", maxBodySize)
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return body, nil
}
