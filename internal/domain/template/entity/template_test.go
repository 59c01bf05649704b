package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"valid", "order_shipped_2", nil},
		{"empty", "", ErrEmptyName},
		{"uppercase", "Order", ErrInvalidName},
		{"space", "order shipped", ErrInvalidName},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateName(tt.in), tt.wantErr)
		})
	}
}

func TestCreateTemplateInput_Validate(t *testing.T) {
	in := CreateTemplateInput{Name: "welcome", Platform: "whatsapp", Category: "UTILITY"}
	assert.NoError(t, in.Validate())

	in.Platform = " "
	assert.ErrorIs(t, in.Validate(), ErrEmptyPlatform)

	in.Platform = "whatsapp"
	in.Category = ""
	assert.ErrorIs(t, in.Validate(), ErrEmptyCategory)
}

func TestUpdateTemplateInput_Validate(t *testing.T) {
	assert.ErrorIs(t, UpdateTemplateInput{}.Validate(), ErrEmptyUpdate)

	active := false
	assert.NoError(t, UpdateTemplateInput{IsActive: &active}.Validate())

	bad := "Bad Name"
	assert.ErrorIs(t, UpdateTemplateInput{Name: &bad}.Validate(), ErrInvalidName)
}
