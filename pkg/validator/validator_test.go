package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

type registerInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type feedFilter struct {
	PostType string `json:"post_type" validate:"omitempty,oneof=recipe article"`
	MaxTime  int    `json:"max_time" validate:"gte=0"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(registerInput{Username: "alice", Email: "alice@example.com", Password: "secret123"})
	assert.NoError(t, err)
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	err := Validate(registerInput{Email: "alice@example.com", Password: "secret123"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, []string{"is required"}, fields["username"])
	assert.Contains(t, err.Error(), "field 'username'")
}

func TestValidate_InvalidEmailAndShortPassword(t *testing.T) {
	err := Validate(registerInput{Username: "alice", Email: "nope", Password: "short"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, []string{"must be a valid email address"}, fields["email"])
	assert.Contains(t, fields["password"][0], "at least 8")
}

func TestValidate_OneOf(t *testing.T) {
	err := Validate(feedFilter{PostType: "video"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields()["post_type"][0], "one of")

	assert.NoError(t, Validate(feedFilter{}))
	assert.NoError(t, Validate(feedFilter{PostType: "recipe", MaxTime: 30}))
}

func TestCheck_ReturnsAppError(t *testing.T) {
	err := Check(registerInput{})
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	fields := apperrors.FieldErrors(err)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestCheck_Valid(t *testing.T) {
	assert.NoError(t, Check(feedFilter{MaxTime: 10}))
}
