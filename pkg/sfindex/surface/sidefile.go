package surface

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cognicore/sfindex/internal/logger"
)

// separators would split a record on reload
const separators = "\t\n\r"

// WriteFile persists m as tab-separated lines: uri, then its forms. Lines
// and forms are sorted so that reruns produce identical files. URIs and
// forms containing a tab or line break are skipped.
func WriteFile(path string, m Map) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create surface form file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	skipped := 0
	for _, uri := range m.Keys() {
		if strings.ContainsAny(uri, separators) {
			skipped++
			continue
		}
		w.WriteString(uri)
		for _, form := range m[uri].Sorted() {
			if strings.ContainsAny(form, separators) {
				skipped++
				continue
			}
			w.WriteByte('\t')
			w.WriteString(form)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return fmt.Errorf("write surface form file: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write surface form file: %w", err)
	}
	if skipped > 0 {
		logger.Warn("Skipped surface form entries with separators", "file", path, "skipped", skipped)
	}
	return f.Close()
}

// ReadFile loads a surface form file. Forms longer than maxLen characters
// are dropped. When alias returns a URI different from the key, the forms
// are registered under that URI as well.
func ReadFile(path string, maxLen int, alias func(string) string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open surface form file: %w", err)
	}
	defer f.Close()

	m := make(Map)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		uri := parts[0]

		forms := make(Set, len(parts)-1)
		for _, form := range parts[1:] {
			if form != "" && utf8.RuneCountInString(form) <= maxLen {
				forms.Add(form)
			}
		}
		m[uri] = forms

		if alias != nil {
			if other := alias(uri); other != uri {
				copied := make(Set, len(forms))
				for form := range forms {
					copied.Add(form)
				}
				m[other] = copied
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read surface form file: %w", err)
	}
	return m, nil
}

// LanguageAlias returns a function stripping the language host prefix from a
// URI, e.g. "http://de.dbpedia.org/resource/X" -> "http://dbpedia.org/resource/X".
func LanguageAlias(language string) func(string) string {
	if language == "" {
		return nil
	}
	prefix := "://" + language + "."
	return func(uri string) string {
		return strings.Replace(uri, prefix, "://", 1)
	}
}
