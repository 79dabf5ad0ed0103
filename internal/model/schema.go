package model

// FieldKind classifies a schema field for the normalizer.
type FieldKind string

const (
	KindIdentifier FieldKind = "identifier"
	KindText       FieldKind = "text"
	KindLocation   FieldKind = "location"
	KindNumeric    FieldKind = "numeric"
)

// CasePolicy selects how a text field is case-normalized.
type CasePolicy int

const (
	CaseKeep CasePolicy = iota
	CaseLower
	CaseTitle
)

// Text is a normalized string or the missing marker (Valid=false).
type Text struct {
	Value string
	Valid bool
}

// Number is a parsed float or the missing marker (Valid=false).
type Number struct {
	Value float64
	Valid bool
}

// SomeText returns a present Text.
func SomeText(s string) Text { return Text{Value: s, Valid: true} }

// SomeNumber returns a present Number.
func SomeNumber(f float64) Number { return Number{Value: f, Valid: true} }

// Arg returns the value, or nil when missing, for a nullable SQL column.
func (t Text) Arg() any {
	if !t.Valid {
		return nil
	}
	return t.Value
}

// Arg returns the value, or nil when missing.
func (n Number) Arg() any {
	if !n.Valid {
		return nil
	}
	return n.Value
}

// Field describes one column of the fixed record schema. Exactly one of
// Text or Num is set, except for the identifier.
type Field struct {
	Name string
	Kind FieldKind
	Case CasePolicy
	Text func(*CleanRecord) *Text
	Num  func(*CleanRecord) *Number
}

// Schema lists every normalized field in snapshot column order.
var Schema = []Field{
	{Name: "code", Kind: KindIdentifier},
	{Name: "product_name", Kind: KindText, Case: CaseTitle, Text: func(r *CleanRecord) *Text { return &r.ProductName }},
	{Name: "brands", Kind: KindText, Case: CaseLower, Text: func(r *CleanRecord) *Text { return &r.Brands }},
	{Name: "categories", Kind: KindText, Case: CaseLower, Text: func(r *CleanRecord) *Text { return &r.Categories }},
	{Name: "countries", Kind: KindText, Case: CaseLower, Text: func(r *CleanRecord) *Text { return &r.Countries }},
	{Name: "nutriscore_grade", Kind: KindText, Case: CaseLower, Text: func(r *CleanRecord) *Text { return &r.NutriscoreGrade }},
	{Name: "stores", Kind: KindLocation, Case: CaseKeep, Text: func(r *CleanRecord) *Text { return &r.Stores }},
	{Name: "energy_100g", Kind: KindNumeric, Num: func(r *CleanRecord) *Number { return &r.Energy }},
	{Name: "sugars_100g", Kind: KindNumeric, Num: func(r *CleanRecord) *Number { return &r.Sugars }},
	{Name: "fat_100g", Kind: KindNumeric, Num: func(r *CleanRecord) *Number { return &r.Fat }},
	{Name: "salt_100g", Kind: KindNumeric, Num: func(r *CleanRecord) *Number { return &r.Salt }},
	{Name: "nova_group", Kind: KindNumeric, Num: func(r *CleanRecord) *Number { return &r.NovaGroup }},
}

// FieldNames returns the schema field names in order.
func FieldNames() []string {
	names := make([]string, len(Schema))
	for i, f := range Schema {
		names[i] = f.Name
	}
	return names
}

// Missing reports whether field f is missing on r. The identifier is never missing.
func (f Field) Missing(r *CleanRecord) bool {
	switch {
	case f.Text != nil:
		return !f.Text(r).Valid
	case f.Num != nil:
		return !f.Num(r).Valid
	default:
		return r.Code == ""
	}
}
