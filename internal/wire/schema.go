package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const submissionSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["ver_client", "msgid_b64", "token", "msg_b64"],
	"properties": {
		"ver_client": {"type": "string", "pattern": "^-?[0-9]+$"},
		"msgid_b64": {"type": "string", "minLength": 1},
		"token": {"type": "string"},
		"msg_b64": {"type": "string"},
		"file_b64": {"type": "string"},
		"devtype": {"type": "string", "pattern": "^-?[0-9]+$"}
	}
}`

const keyNodeSyncSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["ver_client", "usrid"],
	"properties": {
		"ver_client": {"type": "string", "pattern": "^-?[0-9]+$"},
		"usrid": {"type": "string", "pattern": "^-?[0-9]+$"},
		"usridpost": {"type": "string", "pattern": "^-?[0-9]+$"},
		"keynode_b64": {"type": "string"}
	},
	"dependentRequired": {"keynode_b64": ["usridpost"]}
}`

var (
	submissionSchema  = mustCompileSchema("submission.json", submissionSchemaJSON)
	keyNodeSyncSchema = mustCompileSchema("keynodesync.json", keyNodeSyncSchemaJSON)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("parse %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateDocument parses body as JSON and checks it against schema,
// returning the decoded instance.
func validateDocument(schema *jsonschema.Schema, body []byte) (map[string]any, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, err
	}
	doc, ok := inst.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object")
	}
	return doc, nil
}

func stringField(doc map[string]any, name string) (string, bool) {
	value, ok := doc[name].(string)
	return value, ok
}
