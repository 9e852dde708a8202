package fetch

import (
	"fmt"
	"strings"
)

const xsdSuffix = "^^"

// iriEscaper percent-encodes the characters that may not appear inside an IRIREF.
var iriEscaper = strings.NewReplacer(
	" ", "%20",
	"<", "%3C",
	">", "%3E",
	`"`, "%22",
	"{", "%7B",
	"}", "%7D",
	"|", "%7C",
	"^", "%5E",
	"`", "%60",
	`\`, "%5C",
)

func iriRef(uri string) string {
	return "<" + iriEscaper.Replace(uri) + ">"
}

// AttributeQuery builds the query returning rank, label, thumbnail, short
// abstract and types of uri. Every attribute is optional; an entity with n
// types yields n rows sharing the scalar bindings.
func AttributeQuery(uri, graph string) string {
	ref := iriRef(uri)
	var b strings.Builder
	b.WriteString("PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>\n")
	b.WriteString("PREFIX rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#>\n")
	b.WriteString("PREFIX dbo: <http://dbpedia.org/ontology/>\n")
	fmt.Fprintf(&b, "SELECT (<LONG::IRI_RANK> (%s)) AS ?rank ?label ?imageUrl ?abstract ?types\n", ref)
	if graph != "" {
		fmt.Fprintf(&b, "FROM %s\n", iriRef(graph))
	}
	b.WriteString("WHERE {\n")
	fmt.Fprintf(&b, "  OPTIONAL { %s rdfs:label ?label }\n", ref)
	fmt.Fprintf(&b, "  OPTIONAL { %s dbo:thumbnail ?imageUrl }\n", ref)
	fmt.Fprintf(&b, "  OPTIONAL { %s rdf:type ?types }\n", ref)
	fmt.Fprintf(&b, "  OPTIONAL { %s rdfs:comment ?abstract }\n", ref)
	b.WriteString("}")
	return b.String()
}

// ScoreQuery counts the triples having uri as their object.
func ScoreQuery(uri string) string {
	return fmt.Sprintf("SELECT (COUNT(?s) AS ?cnt) WHERE { ?s ?p %s }", iriRef(uri))
}
