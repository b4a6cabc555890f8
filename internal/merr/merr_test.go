package merr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf(KindBadUserInput, "bad value %d", 42)
	assert.Equal(t, "bad value 42", err.Error())
	assert.Equal(t, KindBadUserInput, err.Kind)
}

func TestPayload_IncludesDataWhenPresent(t *testing.T) {
	err := New(KindValidationFailure, "failed").
		WithData(map[string]interface{}{"field": "title"})

	payload := err.Payload()
	assert.Equal(t, "ValidationFailure", payload["kind"])
	assert.Equal(t, "failed", payload["message"])
	assert.Equal(t, map[string]interface{}{"field": "title"}, payload["data"])
}

func TestPayload_OmitsEmptyData(t *testing.T) {
	payload := New(KindAccessDenied, "denied").Payload()
	_, ok := payload["data"]
	assert.False(t, ok)
}

func TestAggregate_CollectsOrderedReasonPayloads(t *testing.T) {
	reasons := []error{
		New(KindBadUserInput, "first"),
		errors.New("second"),
	}
	err := Aggregate("2 of 3 operations failed", reasons)

	require.Equal(t, KindMutationError, err.Kind)
	entries, ok := err.Data["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 2)

	first := entries[0].(map[string]interface{})
	assert.Equal(t, "BadUserInput", first["kind"])
	assert.Equal(t, "first", first["message"])

	// Untyped reasons fold into the default kind.
	second := entries[1].(map[string]interface{})
	assert.Equal(t, "MutationError", second["kind"])
	assert.Equal(t, "second", second["message"])
}

func TestAggregate_UnwrapsReasons(t *testing.T) {
	inner := New(KindLimitsExceeded, "too many")
	err := Aggregate("1 of 1 operations failed", []error{inner})

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.True(t, IsKind(err, KindMutationError))
	assert.True(t, errors.Is(err, inner))
}

func TestNested_UsesNestedKind(t *testing.T) {
	err := Nested("unable to connect", []error{New(KindBadUserInput, "not found")})
	assert.Equal(t, KindNestedError, err.Kind)
	assert.Len(t, err.Reasons(), 1)
}

func TestWithField_PreservesKindAndData(t *testing.T) {
	base := New(KindValidationFailure, "invalid").
		WithData(map[string]interface{}{"errors": []interface{}{}})

	attributed := WithField(base, "tags")
	var me *Error
	require.True(t, errors.As(attributed, &me))
	assert.Equal(t, KindValidationFailure, me.Kind)
	assert.Equal(t, "tags", me.Data["field"])
	_, hasErrors := me.Data["errors"]
	assert.True(t, hasErrors)
}

func TestWithField_WrapsUntypedErrors(t *testing.T) {
	cause := fmt.Errorf("boom")
	attributed := WithField(cause, "title")

	var me *Error
	require.True(t, errors.As(attributed, &me))
	assert.Equal(t, KindMutationError, me.Kind)
	assert.Equal(t, "title", me.Data["field"])
	assert.True(t, errors.Is(attributed, cause))
}

func TestKindOf_UntypedError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(errors.New("plain"), KindMutationError))
}
