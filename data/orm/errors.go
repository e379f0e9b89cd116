package orm

import (
	"sort"
	"strings"

	"gorecord/errors"
)

func errUnknownModel(name string) error {
	return errors.Newf(errors.ErrCodeRegistration, "model %q is not registered", name).
		With("model", name)
}

func errUnknownField(model, field string) error {
	return errors.Newf(errors.ErrCodeSchema, "field %q is not declared on model %q", field, model).
		With("model", model).
		With("field", field)
}

func errAbstract(model string) error {
	return errors.Newf(errors.ErrCodeAbstract, "model %q is abstract and cannot be instantiated", model).
		With("model", model)
}

func errNoScopes(model string) error {
	return errors.Newf(errors.ErrCodeScope, "model %q does not declare any scopes", model).
		With("model", model)
}

func errNotFound(model string, id any) error {
	return errors.Newf(errors.ErrCodeNotFound, "%s record %v not found", model, id).
		With("model", model)
}

func errRemainder(model string, keys map[string]any) error {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return errors.Newf(errors.ErrCodeWriteRemainder, "unknown fields for model %q: %s",
		model, strings.Join(names, ", ")).
		With("model", model).
		With("fields", names)
}

func errRequired(model, field string) error {
	return errors.Newf(errors.ErrCodeValidation, "field %q of model %q is required", field, model).
		With("model", model).
		With("field", field)
}
