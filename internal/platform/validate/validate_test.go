package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/validate"
)

type contact struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type request struct {
	Name    string   `json:"name" validate:"required"`
	Level   *int     `json:"level,omitempty" validate:"omitempty,min=1,max=7"`
	Contact *contact `json:"contact_info"`
	Secret  string   `json:"-" validate:"max=2"`
}

func TestStruct_OK(t *testing.T) {
	assert.NoError(t, validate.Struct(request{Name: "ok"}))
}

func TestStruct_NamesJSONField(t *testing.T) {
	tests := []struct {
		name  string
		req   request
		field string
	}{
		{"required", request{}, "name"},
		{"range", request{Name: "x", Level: ptr(9)}, "level"},
		{"nested", request{Name: "x", Contact: &contact{Email: "nope"}}, "contact_info.email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.req)
			require.ErrorIs(t, err, apperr.ErrValidation)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func ptr(v int) *int { return &v }
