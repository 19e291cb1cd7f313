package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kgraph/internal/kgerrors"
	"kgraph/pkg/api"
)

// validate is shared by all handlers; the rules live as struct tags on the
// request types in pkg/api.
var validate = validator.New()

// decodeJSON decodes a request body into v and runs struct validation.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return kgerrors.Validation("invalid request body: %v", err)
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return kgerrors.Validation("%v", err)
	}
	return nil
}

// writeError maps a service error onto the wire envelope. Errors that are
// not *kgerrors.Error become 500 INTERNAL without leaking their message.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var e *kgerrors.Error
	if !errors.As(err, &e) {
		logger.Error("unclassified handler error", zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, string(kgerrors.KindInternal), "internal error", nil)
		return
	}
	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
	api.WriteError(w, status, string(e.Kind), e.Message, e.Details)
}

// scopeRefusal is the error for an ontology outside the caller's allowlist.
func scopeRefusal(ontology string) *kgerrors.Error {
	return kgerrors.New(kgerrors.KindForbidden, "ontology %q is outside the caller's scopes", ontology).
		WithDetail("ontology", ontology)
}
