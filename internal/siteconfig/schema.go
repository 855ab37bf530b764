package siteconfig

import (
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

const schemaID = "inmemory://sitedeploy/site-config.json"

// keys owned by other subsystems are allowed through untouched
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "site-url": {"type": "string", "minLength": 1},
    "cache-duration": {"type": ["integer", "null"]},
    "headers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    }
  },
  "additionalProperties": true
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaID, strings.NewReader(schemaJSON)); err != nil {
			compileErr = xerrors.Wrap(err, "add config schema")
			return
		}
		compiled, compileErr = c.Compile(schemaID)
		if compileErr != nil {
			compileErr = xerrors.Wrap(compileErr, "compile config schema")
		}
	})
	return compiled, compileErr
}

// Validate checks decoded config values against the site config schema
func Validate(values map[string]any) error {
	sch, err := schema()
	if err != nil {
		return err
	}
	if values == nil {
		values = map[string]any{}
	}
	if err := sch.Validate(values); err != nil {
		return xerrors.Wrap(err, "invalid site config")
	}
	return nil
}
