/*
Package factory provides JSON to Go budget template conversion.

PURPOSE:
  Converts JSON treatment-plan templates into the incoming item list the
  budget engine accepts. Clinics keep their usual plans (a check-up, an
  orthodontic start) as JSON, and the factory turns them into items with
  exact decimal prices.

JSON SCHEMA:
  {
    "id": "sealants",
    "name": "Sealants (first molars)",
    "budget_type": "preventive",
    "items": [
      {"accion": "Sealant", "valor": "35.00", "piezas": ["16", "26", "36", "46"]},
      {"accion": "Fluoride varnish", "valor": "20"}
    ]
  }

  An item with "piezas" expands into one line per piece. Prices may be
  JSON strings or numbers.

USAGE:
  f := NewTemplateFactory()
  tpl, err := f.Get("sealants")
  items := tpl.Items()
  view, err := engine.SaveOrUpdate(ctx, doctorID, patientID, tpl.BudgetType, items)

SEE ALSO:
  - clinic/types.go: IncomingItem
  - api/handlers.go: ApplyTemplate endpoint
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/practice-engine/clinic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TemplateJSON is the JSON representation of a budget template.
type TemplateJSON struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	BudgetType string             `json:"budget_type,omitempty"`
	Items      []TemplateItemJSON `json:"items"`
}

// TemplateItemJSON is one template line.
type TemplateItemJSON struct {
	Accion string          `json:"accion"`
	Valor  decimal.Decimal `json:"valor"`
	Pieza  string          `json:"pieza,omitempty"`
	Piezas []string        `json:"piezas,omitempty"`
}

// Template is a validated template.
type Template struct {
	ID         string
	Name       string
	BudgetType string
	lines      []TemplateItemJSON
}

// Items expands the template into incoming items, in template order.
func (t *Template) Items() []clinic.IncomingItem {
	var out []clinic.IncomingItem
	for _, l := range t.lines {
		if len(l.Piezas) == 0 {
			out = append(out, clinic.IncomingItem{Pieza: l.Pieza, Accion: l.Accion, Valor: l.Valor})
			continue
		}
		for _, p := range l.Piezas {
			out = append(out, clinic.IncomingItem{Pieza: p, Accion: l.Accion, Valor: l.Valor})
		}
	}
	return out
}

// Total is the sum of every expanded line.
func (t *Template) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range t.Items() {
		total = total.Add(it.Valor)
	}
	return total
}

// =============================================================================
// TEMPLATE FACTORY
// =============================================================================

// TemplateFactory parses templates and keeps the built-in set.
type TemplateFactory struct {
	builtin map[string]*Template
}

// NewTemplateFactory creates a factory preloaded with the built-in templates.
func NewTemplateFactory() *TemplateFactory {
	f := &TemplateFactory{builtin: make(map[string]*Template)}
	for _, raw := range builtinTemplates {
		tpl, err := f.ParseTemplate(raw)
		if err != nil {
			panic(fmt.Sprintf("built-in template: %v", err))
		}
		f.builtin[tpl.ID] = tpl
	}
	return f
}

// ParseTemplate parses a JSON string into a Template.
func (f *TemplateFactory) ParseTemplate(jsonStr string) (*Template, error) {
	var tj TemplateJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse template JSON: %w", err)
	}
	return f.FromJSON(tj)
}

// FromJSON validates tj. Item errors are reported as clinic.ValidationError
// with the line index in the field name.
func (f *TemplateFactory) FromJSON(tj TemplateJSON) (*Template, error) {
	if strings.TrimSpace(tj.ID) == "" {
		return nil, &clinic.ValidationError{Field: "id", Message: "is required"}
	}
	if len(tj.Items) == 0 {
		return nil, &clinic.ValidationError{Field: "items", Message: "template has no items"}
	}
	for i, it := range tj.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Accion) == "" {
			return nil, &clinic.ValidationError{Field: field + ".accion", Message: "is required"}
		}
		if !it.Valor.IsPositive() {
			return nil, &clinic.ValidationError{Field: field + ".valor", Message: "must be greater than zero"}
		}
		if it.Pieza != "" && len(it.Piezas) > 0 {
			return nil, &clinic.ValidationError{Field: field, Message: "pieza and piezas are exclusive"}
		}
	}

	name := tj.Name
	if name == "" {
		name = tj.ID
	}
	return &Template{ID: tj.ID, Name: name, BudgetType: tj.BudgetType, lines: tj.Items}, nil
}

// Get returns a built-in template.
func (f *TemplateFactory) Get(id string) (*Template, error) {
	tpl, ok := f.builtin[id]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", id, clinic.ErrNotFound)
	}
	return tpl, nil
}

// List returns the built-in templates sorted by ID.
func (f *TemplateFactory) List() []*Template {
	out := make([]*Template, 0, len(f.builtin))
	for _, tpl := range f.builtin {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// BUILT-IN TEMPLATES
// =============================================================================

var builtinTemplates = []string{
	`{
		"id": "checkup",
		"name": "Check-up and cleaning",
		"budget_type": "preventive",
		"items": [
			{"accion": "Examination", "valor": "40.00"},
			{"accion": "Cleaning", "valor": "60.00"},
			{"accion": "Bitewing X-ray", "valor": "25.00"}
		]
	}`,
	`{
		"id": "sealants",
		"name": "Sealants (first molars)",
		"budget_type": "preventive",
		"items": [
			{"accion": "Sealant", "valor": "35.00", "piezas": ["16", "26", "36", "46"]}
		]
	}`,
	`{
		"id": "orthodontics-start",
		"name": "Orthodontics start",
		"budget_type": "orthodontics",
		"items": [
			{"accion": "Orthodontic study", "valor": "150.00"},
			{"accion": "Bracket placement", "valor": "900.00"},
			{"accion": "Monthly adjustment", "valor": "80.00"}
		]
	}`,
	`{
		"id": "root-canal",
		"name": "Root canal and crown",
		"budget_type": "endodontics",
		"items": [
			{"accion": "Root canal", "valor": "320.00", "pieza": "36"},
			{"accion": "Post and core", "valor": "120.00", "pieza": "36"},
			{"accion": "Crown", "valor": "450.00", "pieza": "36"}
		]
	}`,
	`{
		"id": "botox",
		"name": "Botulinum toxin",
		"budget_type": "aesthetic",
		"items": [
			{"accion": "Botox forehead", "valor": "250.00"},
			{"accion": "Follow-up control", "valor": "50.00"}
		]
	}`,
}
