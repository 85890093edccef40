// Package pipeline loads and validates the project's pipeline definition:
// the mapping from resource type to compiler definition.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/forgekit/forge/internal/forgeerr"
)

// CompilerDef describes how to spawn the compiler for one resource type.
// Only Executable is required by the engine; Args and Env are passed
// through to the spawned process as-is.
type CompilerDef struct {
	Executable string            `json:"executable" jsonschema:"required,description=path or name of the compiler executable"`
	Args       []string          `json:"args,omitempty" jsonschema:"description=extra arguments passed before --persistent"`
	Env        map[string]string `json:"env,omitempty" jsonschema:"description=additional environment variables for the worker process"`
}

// Definition is the full pipeline.json mapping: resource type -> compiler.
type Definition map[string]CompilerDef

// schema is generated once from CompilerDef and reused to validate every
// entry in a loaded pipeline definition. Generating it via
// invopop/jsonschema (rather than hand-maintaining a list of required
// fields) keeps the documented shape and the enforced shape from drifting
// apart. DoNotReference inlines the struct at the top level, so Required
// is read straight off the returned schema with no $defs indirection.
var schema = (&jsonschema.Reflector{Anonymous: true, DoNotReference: true}).Reflect(&CompilerDef{})

// Load reads pipeline.json from path. A missing file is not an error: it
// yields an empty mapping. Malformed JSON, or an entry missing a required
// field per the generated schema, is a FormatError naming the offending
// resource type and field.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Definition{}, nil
		}
		return nil, forgeerr.NewIoError("read", path, err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, forgeerr.NewFormatError(path, err)
	}

	if err := validate(def); err != nil {
		return nil, forgeerr.NewFormatError(path, err)
	}

	return def, nil
}

// validate checks every entry against the fields the generated schema
// marks required.
func validate(def Definition) error {
	required := requiredFields()

	types := make([]string, 0, len(def))
	for t := range def {
		types = append(types, t)
	}
	sort.Strings(types) // deterministic error ordering

	for _, resourceType := range types {
		compilerDef := def[resourceType]
		for _, field := range required {
			if field == "executable" && compilerDef.Executable == "" {
				return fmt.Errorf("pipeline entry %q: missing required field /executable", resourceType)
			}
		}
	}
	return nil
}

func requiredFields() []string {
	if schema == nil || len(schema.Required) == 0 {
		return []string{"executable"}
	}
	return schema.Required
}
