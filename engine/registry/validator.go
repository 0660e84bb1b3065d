package registry

import (
	"context"

	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/pkg/logger"
)

// SchemaValidator validates a record's data against the record's own schema.
// It stands in for the host's generic data validator.
type SchemaValidator struct{}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// ValidateData compiles record.Schema and evaluates record.Data against it.
// A schema that fails to compile is reported as a validation error rather
// than a failure: callers treat any non-empty outcome as "schema unusable".
func (v *SchemaValidator) ValidateData(
	ctx context.Context,
	record *DataRecord,
	strict bool,
) []schema.ValidationError {
	log := logger.FromContext(ctx)
	if record == nil || record.Schema == nil {
		return nil
	}
	target := record.Schema
	if !strict {
		// Lenient mode tolerates unknown fields by dropping additionalProperties
		// constraints at the root.
		target = target.DeepCopy()
		delete(target, "additionalProperties")
	}
	errs, err := target.Validate(ctx, map[string]any{
		"user":      record.Data.User,
		"composite": record.Data.Composite,
	})
	if err != nil {
		log.Warn("schema did not compile", "plugin", record.ID, "error", err)
		return []schema.ValidationError{{Keyword: "schema", Message: err.Error()}}
	}
	return errs
}
