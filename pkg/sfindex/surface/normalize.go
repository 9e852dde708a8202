package surface

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
)

var trailingQualifier = regexp.MustCompile(` \(.+?\)$`)

// Clean turns a raw local name into a surface form: URL-decoded, underscores
// to spaces, whitespace collapsed and a trailing parenthetical qualifier
// removed. ok is false when the result is not a good surface form. A name
// that cannot be decoded yields an error wrapping internalerr.ErrDecode.
func (c *Classifier) Clean(raw string) (form string, ok bool, err error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: %q: %v", internalerr.ErrDecode, raw, err)
	}
	if !utf8.ValidString(decoded) {
		return "", false, fmt.Errorf("%w: %q: invalid utf-8 after unescaping", internalerr.ErrDecode, raw)
	}

	// decoded names may carry tabs and line breaks (%09, %0A); every run of
	// Unicode whitespace becomes one space
	form = strings.Join(strings.Fields(strings.ReplaceAll(decoded, "_", " ")), " ")
	form = trailingQualifier.ReplaceAllString(form, "")

	if !c.IsGoodSurfaceForm(form) {
		return "", false, nil
	}
	return form, true, nil
}

// Fold removes diacritics: canonical decomposition, dropping of combining
// marks, then recomposition. Fold(Fold(s)) == Fold(s).
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
