package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practice-engine/clinic"
)

func TestParseTemplate_ExpandsPiezas(t *testing.T) {
	// GIVEN: A template with one line spread over four pieces
	f := NewTemplateFactory()
	tpl, err := f.ParseTemplate(`{
		"id": "sealants-test",
		"budget_type": "preventive",
		"items": [
			{"accion": "Sealant", "valor": "35.50", "piezas": ["16", "26", "36", "46"]},
			{"accion": "Fluoride varnish", "valor": 20}
		]
	}`)
	require.NoError(t, err)

	// WHEN: Expanding it
	items := tpl.Items()

	// THEN: One item per piece, in order, plus the single line
	require.Len(t, items, 5)
	assert.Equal(t, "16", items[0].Pieza)
	assert.Equal(t, "46", items[3].Pieza)
	assert.Equal(t, "Fluoride varnish", items[4].Accion)
	assert.Equal(t, "", items[4].Pieza)
	assert.Equal(t, "162.00", tpl.Total().StringFixed(2))
	assert.Equal(t, "sealants-test", tpl.Name, "name defaults to id")
	for _, it := range items {
		assert.Zero(t, it.ID, "template items are always new")
	}
}

func TestParseTemplate_Validation(t *testing.T) {
	f := NewTemplateFactory()
	tests := []struct {
		name string
		json string
	}{
		{"missing id", `{"items": [{"accion": "X", "valor": "1"}]}`},
		{"no items", `{"id": "x", "items": []}`},
		{"empty accion", `{"id": "x", "items": [{"accion": " ", "valor": "1"}]}`},
		{"zero valor", `{"id": "x", "items": [{"accion": "X", "valor": "0"}]}`},
		{"pieza and piezas", `{"id": "x", "items": [{"accion": "X", "valor": "1", "pieza": "11", "piezas": ["12"]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseTemplate(tt.json)
			assert.ErrorIs(t, err, clinic.ErrValidation)
		})
	}

	_, err := f.ParseTemplate(`{not json`)
	assert.Error(t, err)
}

func TestBuiltinTemplates(t *testing.T) {
	f := NewTemplateFactory()

	all := f.List()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	checkup, err := f.Get("checkup")
	require.NoError(t, err)
	assert.Equal(t, "preventive", checkup.BudgetType)
	assert.Equal(t, "125.00", checkup.Total().StringFixed(2))

	_, err = f.Get("nope")
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}
