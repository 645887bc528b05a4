package emit

import (
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Convention is an identifier casing style.
type Convention int

const (
	// Verbatim keeps the canonical spelling, replacing invalid characters.
	Verbatim Convention = iota
	// PascalCase: "HumanName", "UsCorePatient".
	PascalCase
	// CamelCase: "humanName", "usCorePatient".
	CamelCase
	// SnakeCase: "human_name", "us_core_patient".
	SnakeCase
)

// Namer maps canonical FHIR names to identifiers of one scope. The
// convention is applied first; a reserved word gets a "_" suffix; an
// identifier already taken by another canonical name gets "_1", "_2", ...
// appended in first-come order. Names are memoized, so one canonical name
// always gets the same identifier within the scope. A Namer is safe for
// concurrent use, but emitters name in a deterministic order so that
// suffixes are stable across runs.
type Namer struct {
	convention Convention
	reserved   map[string]bool
	fold       bool

	mu          sync.Mutex
	byCanonical map[string]string
	byIdent     map[string]string
}

// NewNamer returns a namer with a convention and reserved words.
func NewNamer(c Convention, reserved ...string) *Namer {
	n := &Namer{
		convention:  c,
		reserved:    make(map[string]bool, len(reserved)),
		byCanonical: make(map[string]string),
		byIdent:     make(map[string]string),
	}
	for _, r := range reserved {
		n.reserved[r] = true
	}
	return n
}

// CaseInsensitive makes collisions and reserved words compare without
// case, for targets whose file systems or identifiers fold case.
func (n *Namer) CaseInsensitive() *Namer {
	n.fold = true
	folded := make(map[string]bool, len(n.reserved))
	for r := range n.reserved {
		folded[strings.ToLower(r)] = true
	}
	n.reserved = folded
	return n
}

// Reserve marks identifiers as taken without a canonical name, e.g. the
// enclosing class name for its members.
func (n *Namer) Reserve(idents ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range idents {
		n.byIdent[n.key(id)] = ""
	}
}

// Name returns the identifier for canonical.
func (n *Namer) Name(canonical string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id, ok := n.byCanonical[canonical]; ok {
		return id
	}

	base := Sanitize(canonical, n.convention)
	if n.reserved[n.key(base)] {
		base += "_"
	}
	id := base
	for i := 1; ; i++ {
		if _, taken := n.byIdent[n.key(id)]; !taken {
			break
		}
		id = base + "_" + strconv.Itoa(i)
	}
	n.byCanonical[canonical] = id
	n.byIdent[n.key(id)] = canonical
	return id
}

// Lookup returns the canonical name an identifier was produced from.
func (n *Namer) Lookup(ident string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	canonical, ok := n.byIdent[n.key(ident)]
	if !ok || canonical == "" {
		return "", false
	}
	return canonical, true
}

// Len returns the number of named canonicals.
func (n *Namer) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.byCanonical)
}

func (n *Namer) key(id string) string {
	if n.fold {
		return strings.ToLower(id)
	}
	return id
}

// Sanitize converts a canonical name to an identifier in convention c
// without collision handling. The result contains only letters, digits
// and underscores and never starts with a digit. Choice suffixes ("[x]")
// are dropped.
func Sanitize(canonical string, c Convention) string {
	canonical = strings.ReplaceAll(canonical, "[x]", "")
	var out string
	switch c {
	case PascalCase:
		out = joinWords(words(canonical), upperFirst, upperFirst)
	case CamelCase:
		out = joinWords(words(canonical), strings.ToLower, upperFirst)
	case SnakeCase:
		ws := words(canonical)
		for i, w := range ws {
			ws[i] = strings.ToLower(w)
		}
		out = strings.Join(ws, "_")
	default:
		out = strings.Map(func(r rune) rune {
			if isIdentRune(r) {
				return r
			}
			return '_'
		}, canonical)
	}
	if out == "" {
		return "_"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

func joinWords(ws []string, first, rest func(string) string) string {
	var sb strings.Builder
	for i, w := range ws {
		if i == 0 {
			sb.WriteString(first(strings.ToLower(w)))
			continue
		}
		sb.WriteString(rest(strings.ToLower(w)))
	}
	return sb.String()
}

// words splits "us-core-patient", "HumanName", "OAuth2Token" and
// "value_string" into words. Runs of capitals stay together
// ("HTTPServer" -> HTTP, Server).
func words(s string) []string {
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		if !isIdentRune(r) || r == '_' {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func isIdentRune(r rune) bool {
	return r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
