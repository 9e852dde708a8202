package triples

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseLine parses one N-Triples statement. Blank lines and comments return ok=false.
func ParseLine(line string) (Triple, bool, error) {
	p := &lineParser{s: line}
	p.skipSpace()
	if p.eof() || p.peek() == '#' {
		return Triple{}, false, nil
	}

	var t Triple
	var err error
	if t.Subject, err = p.term(); err != nil {
		return Triple{}, false, fmt.Errorf("subject: %w", err)
	}
	if t.Subject.Kind == Literal {
		return Triple{}, false, fmt.Errorf("subject: literal not allowed")
	}
	if t.Predicate, err = p.term(); err != nil {
		return Triple{}, false, fmt.Errorf("predicate: %w", err)
	}
	if t.Predicate.Kind != IRI {
		return Triple{}, false, fmt.Errorf("predicate: must be an IRI")
	}
	if t.Object, err = p.term(); err != nil {
		return Triple{}, false, fmt.Errorf("object: %w", err)
	}
	p.skipSpace()
	if p.eof() || p.peek() != '.' {
		return Triple{}, false, fmt.Errorf("missing terminating '.'")
	}
	return t, true, nil
}

type lineParser struct {
	s   string
	pos int
}

func (p *lineParser) eof() bool  { return p.pos >= len(p.s) }
func (p *lineParser) peek() byte { return p.s[p.pos] }

func (p *lineParser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.pos++
	}
}

func (p *lineParser) term() (Term, error) {
	p.skipSpace()
	if p.eof() {
		return Term{}, fmt.Errorf("unexpected end of line")
	}
	switch p.peek() {
	case '<':
		v, err := p.iri()
		return Term{Kind: IRI, Value: v}, err
	case '_':
		return p.blank()
	case '"':
		return p.literal()
	default:
		return Term{}, fmt.Errorf("unexpected character %q at %d", p.peek(), p.pos)
	}
}

func (p *lineParser) iri() (string, error) {
	p.pos++ // <
	end := strings.IndexByte(p.s[p.pos:], '>')
	if end < 0 {
		return "", fmt.Errorf("unterminated IRI")
	}
	raw := p.s[p.pos : p.pos+end]
	p.pos += end + 1
	if strings.IndexByte(raw, '\\') < 0 {
		return raw, nil
	}
	return unescape(raw)
}

func (p *lineParser) blank() (Term, error) {
	if !strings.HasPrefix(p.s[p.pos:], "_:") {
		return Term{}, fmt.Errorf("malformed blank node")
	}
	p.pos += 2
	start := p.pos
	for !p.eof() && p.peek() != ' ' && p.peek() != '\t' {
		p.pos++
	}
	// a blank node object may be directly followed by the final dot
	label := strings.TrimSuffix(p.s[start:p.pos], ".")
	if label != p.s[start:p.pos] {
		p.pos--
	}
	if label == "" {
		return Term{}, fmt.Errorf("empty blank node label")
	}
	return Term{Kind: Blank, Value: label}, nil
}

func (p *lineParser) literal() (Term, error) {
	p.pos++ // opening quote
	start := p.pos
	escaped := false
	for {
		if p.eof() {
			return Term{}, fmt.Errorf("unterminated literal")
		}
		c := p.peek()
		if c == '\\' {
			escaped = true
			p.pos += 2
			continue
		}
		if c == '"' {
			break
		}
		p.pos++
	}
	raw := p.s[start:p.pos]
	p.pos++ // closing quote

	value := raw
	if escaped {
		var err error
		if value, err = unescape(raw); err != nil {
			return Term{}, err
		}
	}
	t := Term{Kind: Literal, Value: value}

	if !p.eof() && p.peek() == '@' {
		p.pos++
		start := p.pos
		for !p.eof() && (isAlnum(p.peek()) || p.peek() == '-') {
			p.pos++
		}
		t.Lang = p.s[start:p.pos]
	} else if strings.HasPrefix(p.s[p.pos:], "^^") {
		p.pos += 2
		if p.eof() || p.peek() != '<' {
			return Term{}, fmt.Errorf("malformed datatype")
		}
		dt, err := p.iri()
		if err != nil {
			return Term{}, err
		}
		t.Datatype = dt
	}
	return t, nil
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func unescape(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		switch s[i] {
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'f':
			sb.WriteByte('\f')
		case '"', '\'', '\\':
			sb.WriteByte(s[i])
		case 'u', 'U':
			n := 4
			if s[i] == 'U' {
				n = 8
			}
			if i+1+n > len(s) {
				return "", fmt.Errorf("short unicode escape")
			}
			code, err := strconv.ParseUint(s[i+1:i+1+n], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad unicode escape: %w", err)
			}
			r := rune(code)
			if !utf8.ValidRune(r) {
				r = utf8.RuneError
			}
			sb.WriteRune(r)
			i += n
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return sb.String(), nil
}
