package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsCarryStatusAndSeverity(t *testing.T) {
	cases := []struct {
		err    *Error
		typ    Type
		status int
		sev    Severity
	}{
		{Validation("bad"), TypeValidation, http.StatusBadRequest, SeverityLow},
		{Authentication("who"), TypeAuthentication, http.StatusUnauthorized, SeverityMedium},
		{Authorization("no"), TypeAuthorization, http.StatusForbidden, SeverityMedium},
		{NotFound("gone"), TypeNotFound, http.StatusNotFound, SeverityLow},
		{Conflict("dup"), TypeConflict, http.StatusConflict, SeverityLow},
		{Database("db", nil), TypeDatabase, http.StatusInternalServerError, SeverityHigh},
		{ExternalService("up", nil), TypeExternalService, http.StatusBadGateway, SeverityHigh},
		{Internal("boom", nil), TypeInternal, http.StatusInternalServerError, SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.typ, tc.err.Type)
		assert.Equal(t, tc.status, tc.err.StatusCode)
		assert.Equal(t, tc.sev, tc.err.Severity)
	}
}

func TestIsMatchesTypeAndMessage(t *testing.T) {
	sentinel := Authentication("invalid credentials")
	wrapped := fmt.Errorf("login: %w", sentinel.WithDetails(map[string]any{"email": "a@x.com"}))

	require.ErrorIs(t, wrapped, sentinel)
	require.ErrorIs(t, wrapped, &Error{Type: TypeAuthentication})
	require.NotErrorIs(t, wrapped, Authentication("session expired"))
	require.NotErrorIs(t, wrapped, Authorization("invalid credentials"))
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("nil pointer somewhere")
	e := From(cause)
	require.Equal(t, TypeInternal, e.Type)
	require.ErrorIs(t, e, cause)

	typed := NotFound("missing")
	require.Same(t, typed, From(fmt.Errorf("wrap: %w", typed)))
	require.Nil(t, From(nil))
}

func TestPublicRedactsInProduction(t *testing.T) {
	e := Database("query failed", errors.New("relation \"employee\" does not exist")).
		WithDetails(map[string]any{"sql": "SELECT 1"})

	prod := e.Public(false)
	assert.Equal(t, genericMessage, prod.Message)
	assert.Nil(t, prod.Details)

	dev := e.Public(true)
	assert.Contains(t, dev.Message, "does not exist")
	assert.Equal(t, "SELECT 1", dev.Details["sql"])

	authz := Authorization("requires one of roles [admin]").Public(false)
	assert.Equal(t, "requires one of roles [admin]", authz.Message)
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := Validation("bad input")
	derived := base.WithDetails(map[string]any{"field": "email"})
	assert.Nil(t, base.Details)
	assert.Equal(t, "email", derived.Details["field"])
}
