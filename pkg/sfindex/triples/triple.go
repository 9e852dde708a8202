// Package triples provides the (subject, predicate, object) records the
// resolver streams over, and readers/writers for N-Triples dump files.
package triples

import (
	"strings"
)

// Kind identifies the type of an RDF term.
type Kind int

const (
	IRI Kind = iota
	Literal
	Blank
)

// Term is one position of a triple.
type Term struct {
	Kind     Kind
	Value    string // IRI, blank node label or literal lexical form
	Lang     string
	Datatype string
}

// String returns the bare value: the IRI without brackets or the literal's lexical form.
func (t Term) String() string {
	return t.Value
}

// N3 returns the N-Triples serialization of the term.
func (t Term) N3() string {
	switch t.Kind {
	case IRI:
		return "<" + t.Value + ">"
	case Blank:
		return "_:" + t.Value
	default:
		var sb strings.Builder
		sb.WriteByte('"')
		sb.WriteString(escapeLiteral(t.Value))
		sb.WriteByte('"')
		if t.Lang != "" {
			sb.WriteByte('@')
			sb.WriteString(t.Lang)
		} else if t.Datatype != "" {
			sb.WriteString("^^<")
			sb.WriteString(t.Datatype)
			sb.WriteByte('>')
		}
		return sb.String()
	}
}

// NewIRI builds an IRI term.
func NewIRI(v string) Term { return Term{Kind: IRI, Value: v} }

// NewLiteral builds a plain or language-tagged literal.
func NewLiteral(v, lang string) Term { return Term{Kind: Literal, Value: v, Lang: lang} }

// Triple is a single (subject, predicate, object) edge.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// N3 returns the triple as one N-Triples line without the trailing newline.
func (t Triple) N3() string {
	return t.Subject.N3() + " " + t.Predicate.N3() + " " + t.Object.N3() + " ."
}

// T is a shorthand used by tests and fixtures: IRIs for subject and predicate,
// object is an IRI unless it is quoted.
func T(s, p, o string) Triple {
	obj := NewIRI(o)
	if len(o) >= 2 && strings.HasPrefix(o, `"`) && strings.HasSuffix(o, `"`) {
		obj = NewLiteral(o[1:len(o)-1], "")
	}
	return Triple{Subject: NewIRI(s), Predicate: NewIRI(p), Object: obj}
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string {
	return literalEscaper.Replace(s)
}
