// Package store defines the indexed document, its field mapping and the
// contract of a document store.
package store

import "strconv"

// Field names as they appear in the index.
const (
	FieldURI                 = "uri"
	FieldCanonicalURI        = "dbpediaUri"
	FieldLabel               = "label"
	FieldShortAbstract       = "comment"
	FieldImageURI            = "imageURL"
	FieldRank                = "pagerank"
	FieldDisambiguationScore = "disambiguationScore"
	FieldTypes               = "types"
	FieldSurfaceForms        = "surfaceForms"
)

// FieldKind tells the store how to index a field.
type FieldKind int

const (
	// Exact fields are stored verbatim and matched as a whole.
	Exact FieldKind = iota
	// Text fields are tokenized for full-text search.
	Text
	// Int fields hold a stored integer.
	Int
	// Float fields hold a stored floating-point number.
	Float
)

func (k FieldKind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Text:
		return "text"
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return "unknown"
	}
}

// Field is one indexed value. Multi-valued attributes produce one Field per value.
type Field struct {
	Name  string
	Kind  FieldKind
	Value string
	Int   int64
	Float float64
}

// Document is the unit written to the index.
type Document struct {
	URI                 string
	CanonicalURI        string
	Label               string
	ShortAbstract       string
	ImageURI            string
	Rank                int
	DisambiguationScore float64
	Types               []string
	SurfaceForms        []string
}

// Fields returns the index fields of d. Empty optional values are omitted.
func (d Document) Fields() []Field {
	fields := []Field{
		{Name: FieldURI, Kind: Exact, Value: d.URI},
		{Name: FieldLabel, Kind: Text, Value: d.Label},
		{Name: FieldRank, Kind: Int, Int: int64(d.Rank)},
		{Name: FieldDisambiguationScore, Kind: Float, Float: d.DisambiguationScore},
	}
	if d.CanonicalURI != "" {
		fields = append(fields, Field{Name: FieldCanonicalURI, Kind: Exact, Value: d.CanonicalURI})
	}
	if d.ShortAbstract != "" {
		fields = append(fields, Field{Name: FieldShortAbstract, Kind: Text, Value: d.ShortAbstract})
	}
	if d.ImageURI != "" {
		fields = append(fields, Field{Name: FieldImageURI, Kind: Exact, Value: d.ImageURI})
	}
	for _, t := range d.Types {
		fields = append(fields, Field{Name: FieldTypes, Kind: Exact, Value: t})
	}
	for _, sf := range d.SurfaceForms {
		fields = append(fields, Field{Name: FieldSurfaceForms, Kind: Text, Value: sf})
	}
	return fields
}

// Assemble rebuilds a Document from its fields. Unknown names are ignored.
func Assemble(fields []Field) Document {
	var d Document
	for _, f := range fields {
		switch f.Name {
		case FieldURI:
			d.URI = f.Value
		case FieldCanonicalURI:
			d.CanonicalURI = f.Value
		case FieldLabel:
			d.Label = f.Value
		case FieldShortAbstract:
			d.ShortAbstract = f.Value
		case FieldImageURI:
			d.ImageURI = f.Value
		case FieldRank:
			d.Rank = int(f.Int)
		case FieldDisambiguationScore:
			d.DisambiguationScore = f.Float
		case FieldTypes:
			d.Types = append(d.Types, f.Value)
		case FieldSurfaceForms:
			d.SurfaceForms = append(d.SurfaceForms, f.Value)
		}
	}
	return d
}

// String is a short human-readable form for logs.
func (d Document) String() string {
	return d.URI + " (" + d.Label + ", rank " + strconv.Itoa(d.Rank) + ")"
}
