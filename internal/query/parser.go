package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	varAtStart = regexp.MustCompile(`^\$([A-Za-z_]\w*)`)
	isaAtom    = regexp.MustCompile(`\bisa\s+([A-Za-z_][\w-]*)`)
	idAtom     = regexp.MustCompile(`\bid\s*<\s*(\d+)\s*>`)
	hasAtom    = regexp.MustCompile(`\bhas\s+([A-Za-z_][\w-]*)\s+(?:\$([A-Za-z_]\w*)|'([^']*)'|"([^"]*)"|(-?[0-9.]+))`)
	roleRef    = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*:\s*\$([A-Za-z_]\w*)`)
)

// Recognizer is the minimal hand-written Parser described in the package
// doc: it accepts exactly the `define`/`match ... get|insert|delete|
// aggregate`/bare-`insert` shapes exercised by SPEC_FULL.md's end-to-end
// scenarios, not a general query grammar.
type Recognizer struct{}

// NewRecognizer returns a ready-to-use Recognizer. It holds no state.
func NewRecognizer() *Recognizer { return &Recognizer{} }

func (r *Recognizer) Parse(text string) (AST, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return AST{}, fmt.Errorf("query: empty statement")
	}
	lower := strings.ToLower(text)

	if strings.HasPrefix(lower, "define") {
		return parseDefine(text[len("define"):])
	}

	var body string
	hadMatch := false
	switch {
	case strings.HasPrefix(lower, "match"):
		hadMatch = true
		body = text[len("match"):]
	case strings.HasPrefix(lower, "insert"):
		body = text[len("insert"):]
	default:
		return AST{}, fmt.Errorf("query: unrecognized statement %q", text)
	}

	ast := AST{}
	if hadMatch {
		ast.Kind = Get // overridden below if a control clause says otherwise
	} else {
		ast.Kind = Insert
	}
	sawControl := false

	for _, clause := range splitDepthAware(body, ';') {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		cl := strings.ToLower(clause)
		switch {
		case cl == "get" || strings.HasPrefix(cl, "get "):
			ast.Kind, sawControl = Get, true
			if strings.Contains(cl, "noinfer") {
				ast.Infer = false
			} else {
				ast.Infer = true
			}

		case strings.HasPrefix(cl, "delete"):
			ast.Kind, sawControl = Delete, true
			for _, v := range splitDepthAware(clause[len("delete"):], ',') {
				v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "$"))
				if v != "" {
					ast.DeleteVars = append(ast.DeleteVars, v)
				}
			}

		case strings.HasPrefix(cl, "insert"):
			ast.Kind, sawControl = Insert, true
			for _, stmt := range splitDepthAware(clause[len("insert"):], ';') {
				if p, err := parsePattern(stmt); err == nil {
					ast.Patterns = append(ast.Patterns, p)
				}
			}

		case strings.HasPrefix(cl, "aggregate") || strings.HasPrefix(cl, "count"):
			ast.Kind, sawControl = Aggregate, true
			ast.AggregateFunc = "count"

		default:
			p, err := parsePattern(clause)
			if err != nil {
				return AST{}, err
			}
			ast.Patterns = append(ast.Patterns, p)
		}
	}
	if !hadMatch && !sawControl {
		ast.Kind = Insert
	}
	return ast, nil
}

func parsePattern(stmt string) (Pattern, error) {
	stmt = strings.TrimSpace(stmt)
	var p Pattern

	if m := varAtStart.FindStringSubmatch(stmt); m != nil {
		p.Var = m[1]
	}
	if m := isaAtom.FindStringSubmatch(stmt); m != nil {
		p.Isa = m[1]
	}
	if m := idAtom.FindStringSubmatch(stmt); m != nil {
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return Pattern{}, fmt.Errorf("query: malformed id reference in %q: %w", stmt, err)
		}
		p.IDRef, p.HasIDRef = n, true
	}
	if m := hasAtom.FindStringSubmatch(stmt); m != nil {
		p.HasLabel = m[1]
		switch {
		case m[2] != "":
			p.HasVar = m[2]
		case m[3] != "":
			p.HasValue = m[3]
		case m[4] != "":
			p.HasValue = m[4]
		case m[5] != "":
			if f, err := strconv.ParseFloat(m[5], 64); err == nil {
				p.HasValue = f
			}
		}
	}
	if strings.Contains(stmt, "(") {
		for _, m := range roleRef.FindAllStringSubmatch(stmt, -1) {
			p.RoleRefs = append(p.RoleRefs, RoleRef{Role: m[1], Var: m[2]})
		}
	}

	if p.Var == "" && p.Isa == "" && p.HasLabel == "" && !p.HasIDRef && len(p.RoleRefs) == 0 {
		return Pattern{}, fmt.Errorf("query: unrecognized pattern %q", stmt)
	}
	return p, nil
}

func parseDefine(body string) (AST, error) {
	ast := AST{Kind: Define}
	for _, def := range splitDepthAware(body, '.') {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		td, err := parseTypeDef(def)
		if err != nil {
			return AST{}, err
		}
		ast.TypeDefs = append(ast.TypeDefs, td)
	}
	if len(ast.TypeDefs) == 0 {
		return AST{}, fmt.Errorf("query: empty define statement")
	}
	return ast, nil
}

func parseTypeDef(def string) (TypeDef, error) {
	clauses := splitDepthAware(def, ',')
	head := strings.Fields(strings.TrimSpace(clauses[0]))
	if len(head) < 3 || strings.ToLower(head[1]) != "sub" {
		return TypeDef{}, fmt.Errorf("query: malformed type definition %q, want '<label> sub <target>'", clauses[0])
	}
	td := TypeDef{Label: head[0], Sub: strings.Join(head[2:], " ")}

	for _, clause := range clauses[1:] {
		clause = strings.TrimSpace(clause)
		cl := strings.ToLower(clause)
		switch {
		case strings.HasPrefix(cl, "plays"):
			role := strings.TrimSpace(clause[len("plays"):])
			required := strings.Contains(strings.ToLower(role), "(required)")
			if required {
				role = strings.TrimSpace(strings.Split(role, "(")[0])
			}
			td.Plays = append(td.Plays, PlaysClause{Role: role, Required: required})
		case strings.HasPrefix(cl, "relates"):
			td.Relates = append(td.Relates, strings.TrimSpace(clause[len("relates"):]))
		case strings.HasPrefix(cl, "datatype"):
			td.DataType = strings.TrimSpace(clause[len("datatype"):])
		case strings.HasPrefix(cl, "key"):
			td.Keys = append(td.Keys, strings.TrimSpace(clause[len("key"):]))
		case strings.HasPrefix(cl, "when"):
			td.When = strings.TrimSpace(clause[len("when"):])
		case strings.HasPrefix(cl, "then"):
			td.Then = strings.TrimSpace(clause[len("then"):])
		case strings.HasPrefix(cl, "abstract"):
			// accepted but not recorded: TypeDef has no abstract field,
			// so the clause has no effect on the parsed definition.
		default:
			return TypeDef{}, fmt.Errorf("query: unrecognized type definition clause %q", clause)
		}
	}
	return td, nil
}

// splitDepthAware splits s on sep, ignoring occurrences of sep nested
// inside {}, (), [] or single/double-quoted strings. Used for every
// top-level split this recognizer does ('.' between type defs, ','
// between clauses, ';' between statements) so a rule's `when {...}`
// block or a relation's `(role:$var, ...)` group is never split apart.
func splitDepthAware(s string, sep byte) []string {
	var out []string
	depth := 0
	var inQuote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '{' || c == '(' || c == '[':
			depth++
		case c == '}' || c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
