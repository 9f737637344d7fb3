package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopsync/shopsync/internal/api"
)

// Schema cross-validation errors. All of them are fatal and surface before
// any data I/O begins.
var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownField  = errors.New("unknown field")
)

// Validate cross-checks the profile against the remote schema descriptor:
// the entity must exist, every path mapping's first segment must be a
// declared field, and each nested segment must resolve across declared
// associations. A null-safe mark on a field the server flags as required is
// permitted but warned, it usually signals a stale profile.
func (p *Profile) Validate(schema api.Schema) error {
	if _, ok := schema[p.Entity]; !ok {
		return fmt.Errorf("%w: %q not found in API schema", ErrUnknownEntity, p.Entity)
	}

	for _, m := range p.Mappings {
		if !m.IsPath() {
			continue
		}
		if err := validatePath(schema, p.Entity, m.EntityPath, m.EntityPath); err != nil {
			return err
		}
	}
	return nil
}

// validatePath walks one dotted path across association edges, recursing
// with the target entity of each hop. fullPath is carried for messages.
func validatePath(schema api.Schema, entityName, path, fullPath string) error {
	seg, rest, nested := strings.Cut(path, ".")
	nullSafe := strings.HasSuffix(seg, "?")
	field := strings.TrimSuffix(seg, "?")

	ent := schema[entityName]
	prop, ok := ent.Properties[field]
	if !ok {
		return fmt.Errorf("%w: entity %q has no field %q (path %q)", ErrUnknownField, entityName, field, fullPath)
	}

	if nullSafe && prop.Required() {
		slog.Warn("null-safe mark on a required field",
			"entity", entityName, "field", field, "path", fullPath)
	}

	if !nested {
		return nil
	}

	if !prop.IsAssociation() {
		return fmt.Errorf("%w: field %q of entity %q is not an association (path %q)", ErrUnknownField, field, entityName, fullPath)
	}
	if _, ok := schema[prop.Entity]; !ok {
		return fmt.Errorf("%w: association %q points at unknown entity %q (path %q)", ErrUnknownField, field, prop.Entity, fullPath)
	}

	return validatePath(schema, prop.Entity, rest, fullPath)
}
