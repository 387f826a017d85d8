package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type signupPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strongpassword"`
	Name     string `json:"name" validate:"required,max=100"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := signupPayload{
		Email:    "alice@example.com",
		Password: "Sup3rSecret",
		Name:     "Alice",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructCollectsFailures(t *testing.T) {
	err := ValidateStruct(signupPayload{Email: "nope", Password: "weak"})
	require.Error(t, err)

	var failures ValidationErrors
	require.True(t, errors.As(err, &failures))

	tags := map[string]string{}
	for _, f := range failures {
		tags[f.Field] = f.Tag
	}
	require.Equal(t, "email", tags["email"])
	require.Equal(t, "strongpassword", tags["password"])
	require.Equal(t, "required", tags["name"])
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		min      int
		ok       bool
	}{
		{name: "strong", password: "Passw0rdOK", ok: true},
		{name: "too short", password: "Ab1", ok: false},
		{name: "no digit", password: "Password", ok: false},
		{name: "no upper", password: "passw0rd", ok: false},
		{name: "custom minimum", password: "Passw0rd", min: 12, ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password, tc.min)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrWeakPassword)
		})
	}
}
