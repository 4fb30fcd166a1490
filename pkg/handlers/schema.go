package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agenthub/hub/pkg/huberrors"
)

// validateContextAgainstSchema checks a run's Input.Context against a
// handler's declared InputSchema before dispatch. A nil/empty schema
// always passes.
func validateContextAgainstSchema(context map[string]any, schemaBytes json.RawMessage) error {
	if len(schemaBytes) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("handlers: unmarshal input schema: %w", err)
	}

	payload, err := json.Marshal(context)
	if err != nil {
		return fmt.Errorf("handlers: marshal input context: %w", err)
	}
	var payloadDoc any
	if err := json.Unmarshal(payload, &payloadDoc); err != nil {
		return fmt.Errorf("handlers: unmarshal input context: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("input.json", schemaDoc); err != nil {
		return fmt.Errorf("handlers: add schema resource: %w", err)
	}
	schema, err := c.Compile("input.json")
	if err != nil {
		return fmt.Errorf("handlers: compile input schema: %w", err)
	}

	if err := schema.Validate(payloadDoc); err != nil {
		return huberrors.NewWithCause(huberrors.CodeValidationFailed, "input failed handler schema validation", err)
	}
	return nil
}
