package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterOp_IsValid(t *testing.T) {
	tests := []struct {
		op   FilterOp
		want bool
	}{
		{OpEq, true},
		{OpNe, true},
		{OpGt, true},
		{OpGte, true},
		{OpLt, true},
		{OpLte, true},
		{OpIn, true},
		{OpContains, true},
		{OpExists, true},
		{FilterOp("invalid"), false},
		{FilterOp(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.IsValid())
		})
	}
}

func TestFilters_Validate(t *testing.T) {
	assert.NoError(t, Filters{{Field: "a", Op: OpEq, Value: 1.0}, {Field: "b", Op: OpExists}}.Validate())
	assert.NoError(t, Filters(nil).Validate())

	err := Filters{{Field: "", Op: OpEq}}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "filter field is missing", err.Error())

	err = Filters{{Field: "a", Op: "~"}}.Validate()
	assert.Equal(t, "unknown filter operator [~] on field [a]", err.Error())

	err = Filters{{Field: "a", Op: OpIn, Value: "x"}}.Validate()
	assert.Equal(t, "filter operator [in] on field [a] requires an array value", err.Error())
}
