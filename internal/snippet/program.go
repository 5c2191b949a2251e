package snippet

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
)

const (
	// DefaultOutput is the output a single bare expression is assigned to.
	DefaultOutput = "result"
	// MaskSuffix turns a source name into the name of its validity mask.
	MaskSuffix = "_mask"
	// WriterSuffix turns an output name into the name of its writer handle.
	WriterSuffix = "_"
	// TileVar is the variable holding the geometry of the current tile.
	TileVar = "tile"

	selectorInfix = "__at"
	filename      = "snippet"
)

// StatementKind distinguishes assignments from writer calls.
type StatementKind int

const (
	Assign StatementKind = iota
	WriterCall
	// Call is a bare call to a function run only for its side effect.
	Call
)

// StatementFunctions may be called as statements of their own.
var StatementFunctions = map[string]bool{
	"log_debug": true,
	"log_info":  true,
	"log_warn":  true,
}

// Statement is one parsed statement.
type Statement struct {
	Kind StatementKind
	Line int
	// Name is the assigned variable, or the output a writer call targets.
	Name string
	Expr hclsyntax.Expression
	// Method and Args are set for writer calls.
	Method string
	Args   []hclsyntax.Expression
}

// Handle returns the writer handle a writer call addresses.
func (s Statement) Handle() string { return s.Name + WriterSuffix }

// SourceUse records how the snippet refers to one declared source.
type SourceUse struct {
	// Whole is set when the source is read as a whole, e.g. `A` or `A[0]`.
	Whole bool
	// Mask is set when `A_mask` is referenced.
	Mask bool
	// Meta is set when metadata is read, e.g. `A.band_names`.
	Meta      bool
	Selectors []*BandSelector
}

// Program is a parsed snippet.
type Program struct {
	Statements []Statement
	// Sources maps every referenced source to how it is used.
	Sources map[string]*SourceUse
	// Functions lists every function called, sorted.
	Functions []string
}

// writerMethods maps writer method names to their argument count.
var writerMethods = map[string]int{
	"set_no_data_value": 1,
	"set_band_name":     2,
	"set_band_names":    1,
	"set_wavelength":    2,
	"set_metadata_item": 2,
}

// IsWriterMethod reports whether name is a writer handle method.
func IsWriterMethod(name string) bool {
	_, ok := writerMethods[name]
	return ok
}

var (
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	writerCallRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\.\s*(set_[A-Za-z0-9_]*)\s*\(([\s\S]*)\)$`)
	assignRe     = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=([\s\S]*)$`)
)

// ValidSourceName reports whether name can be declared as a source.
func ValidSourceName(name string) error {
	switch {
	case !identRe.MatchString(name):
		return fmt.Errorf("%q is not a valid identifier", name)
	case name == TileVar:
		return fmt.Errorf("%q is reserved", name)
	case strings.HasSuffix(name, WriterSuffix), strings.Contains(name, selectorInfix):
		return fmt.Errorf("%q uses a reserved suffix", name)
	}
	return nil
}

type parser struct {
	sources   map[string]bool
	prog      *Program
	selectors map[string]*BandSelector
}

// Parse parses text against the declared source names. Syntax errors are
// returned as *calcerr.ScriptExecutionError; an invalid source name is a
// *calcerr.ConfigurationError.
func Parse(text string, sources []string) (*Program, error) {
	p := &parser{
		sources:   make(map[string]bool, len(sources)),
		prog:      &Program{Sources: make(map[string]*SourceUse)},
		selectors: make(map[string]*BandSelector),
	}
	for _, s := range sources {
		if err := ValidSourceName(s); err != nil {
			return nil, &calcerr.ConfigurationError{Subject: s, Message: "invalid source name", Err: err}
		}
		p.sources[s] = true
	}

	raw := splitStatements(stripComments(text))
	if len(raw) == 0 {
		return nil, calcerr.Scriptf(0, "snippet is empty")
	}

	bare, others := -1, 0
	for _, rs := range raw {
		stmt, isBare, err := p.parseStatement(rs)
		if err != nil {
			return nil, err
		}
		switch {
		case isBare && bare >= 0:
			return nil, notAssigned(stmt.Line)
		case isBare:
			bare = len(p.prog.Statements)
		case stmt.Kind != Call:
			others++
		}
		p.prog.Statements = append(p.prog.Statements, stmt)
	}
	if bare >= 0 {
		if others > 0 {
			return nil, notAssigned(p.prog.Statements[bare].Line)
		}
		p.prog.Statements[bare].Name = DefaultOutput
	}

	p.collectReferences()
	return p.prog, nil
}

func notAssigned(line int) error {
	return calcerr.Scriptf(line, "expression is not assigned to anything; write `name = <expression>`")
}

// parseStatement parses one raw statement and reports whether it is a bare
// expression. Parse accepts a bare expression only next to side-effect calls.
func (p *parser) parseStatement(rs rawStatement) (Statement, bool, error) {
	text, err := p.rewrite(rs.text)
	if err != nil {
		return Statement{}, false, calcerr.Scriptf(rs.line, "%v", err)
	}
	text = strings.TrimSpace(text)

	if m := writerCallRe.FindStringSubmatch(text); m != nil {
		return p.parseWriterCall(rs.line, m[1], m[2], m[3])
	}

	if m := assignRe.FindStringSubmatch(text); m != nil && !strings.HasPrefix(m[2], "=") {
		name := m[1]
		if err := p.checkAssignable(name); err != nil {
			return Statement{}, false, calcerr.Scriptf(rs.line, "%v", err)
		}
		expr, err := parseExpr(m[2], rs.line)
		if err != nil {
			return Statement{}, false, err
		}
		return Statement{Kind: Assign, Line: rs.line, Name: name, Expr: expr}, false, nil
	}

	expr, err := parseExpr(text, rs.line)
	if err != nil {
		return Statement{}, false, err
	}
	if call, ok := expr.(*hclsyntax.FunctionCallExpr); ok && StatementFunctions[call.Name] {
		return Statement{Kind: Call, Line: rs.line, Expr: expr}, false, nil
	}
	return Statement{Kind: Assign, Line: rs.line, Expr: expr}, true, nil
}

func (p *parser) parseWriterCall(line int, target, method, args string) (Statement, bool, error) {
	arity, ok := writerMethods[method]
	if !ok {
		return Statement{}, false, calcerr.Scriptf(line, "unknown writer method %q", method)
	}
	name := strings.TrimSuffix(target, WriterSuffix)
	if p.isInputName(name) {
		return Statement{}, false, calcerr.Scriptf(line, "%q is an input; only outputs have writer handles", name)
	}

	tuple, err := parseExpr("["+args+"]", line)
	if err != nil {
		return Statement{}, false, err
	}
	cons, ok := tuple.(*hclsyntax.TupleConsExpr)
	if !ok {
		return Statement{}, false, calcerr.Scriptf(line, "malformed arguments to %s", method)
	}
	if len(cons.Exprs) != arity {
		return Statement{}, false, calcerr.Scriptf(line, "%s expects %d argument(s), got %d", method, arity, len(cons.Exprs))
	}
	return Statement{Kind: WriterCall, Line: line, Name: name, Method: method, Args: cons.Exprs}, false, nil
}

func (p *parser) isInputName(name string) bool {
	return p.sources[name] || p.sources[strings.TrimSuffix(name, MaskSuffix)] || strings.Contains(name, selectorInfix)
}

func (p *parser) checkAssignable(name string) error {
	switch {
	case p.isInputName(name):
		return fmt.Errorf("cannot assign to input %q", name)
	case name == TileVar:
		return fmt.Errorf("cannot assign to reserved name %q", name)
	case strings.HasSuffix(name, WriterSuffix):
		return fmt.Errorf("cannot assign to writer handle %q", name)
	}
	return nil
}

// rewrite replaces band selectors with their variables and puts spaces
// around '-' so HCL does not read `A-B` as one identifier.
func (p *parser) rewrite(stmt string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(stmt); {
		c := stmt[i]
		switch {
		case c == '"':
			j := skipString(stmt, i)
			sb.WriteString(stmt[i:j])
			i = j
		case isIdentStart(c):
			j := i
			for j < len(stmt) && isIdentChar(stmt[j]) {
				j++
			}
			ident := stmt[i:j]
			if j < len(stmt) && stmt[j] == '@' {
				if !p.sources[ident] {
					return "", fmt.Errorf("band selector on %q, which is not a declared source", ident)
				}
				sel, end, err := parseSelector(stmt, j+1)
				if err != nil {
					return "", fmt.Errorf("%s@: %w", ident, err)
				}
				sb.WriteString(p.register(ident, sel).Var)
				i = end
				continue
			}
			sb.WriteString(ident)
			i = j
		case isDigit(c) || (c == '.' && i+1 < len(stmt) && isDigit(stmt[i+1])):
			j := i
			for j < len(stmt) && (isDigit(stmt[j]) || stmt[j] == '.') {
				j++
			}
			if j < len(stmt) && (stmt[j] == 'e' || stmt[j] == 'E') {
				k := j + 1
				if k < len(stmt) && (stmt[k] == '+' || stmt[k] == '-') {
					k++
				}
				if k < len(stmt) && isDigit(stmt[k]) {
					for j = k; j < len(stmt) && isDigit(stmt[j]); j++ {
					}
				}
			}
			sb.WriteString(stmt[i:j])
			i = j
		case c == '-':
			sb.WriteString(" - ")
			i++
		case c == '@':
			return "", fmt.Errorf("'@' must follow a source name")
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), nil
}

// register returns the selector already known under the same text, or
// assigns sel a fresh variable.
func (p *parser) register(source string, sel *BandSelector) *BandSelector {
	sel.Source = source
	key := sel.String()
	if known, ok := p.selectors[key]; ok {
		return known
	}
	use := p.use(source)
	sel.Var = fmt.Sprintf("%s%s%d", source, selectorInfix, len(use.Selectors)+1)
	use.Selectors = append(use.Selectors, sel)
	p.selectors[key] = sel
	return sel
}

func (p *parser) use(source string) *SourceUse {
	u, ok := p.prog.Sources[source]
	if !ok {
		u = &SourceUse{}
		p.prog.Sources[source] = u
	}
	return u
}

// collectReferences records which sources are read whole, as masks or for
// their metadata, and which functions are called.
func (p *parser) collectReferences() {
	var exprs []hclsyntax.Expression
	for _, s := range p.prog.Statements {
		if s.Expr != nil {
			exprs = append(exprs, s.Expr)
		}
		exprs = append(exprs, s.Args...)
	}

	refs, funcs := extractReferencesAndFunctions(exprs...)
	for _, tr := range refs {
		root := tr.RootName()
		switch {
		case p.sources[root]:
			u := p.use(root)
			if len(tr) > 1 {
				if _, isAttr := tr[1].(hcl.TraverseAttr); isAttr {
					u.Meta = true
					continue
				}
			}
			u.Whole = true
		case strings.HasSuffix(root, MaskSuffix) && p.sources[strings.TrimSuffix(root, MaskSuffix)]:
			p.use(strings.TrimSuffix(root, MaskSuffix)).Mask = true
		}
	}
	p.prog.Functions = funcs
}

// Assigned returns the names assigned by the program, in statement order.
func (p *Program) Assigned() []string {
	var names []string
	for _, s := range p.Statements {
		if s.Kind == Assign && !slices.Contains(names, s.Name) {
			names = append(names, s.Name)
		}
	}
	return names
}

// WriterTargets returns the outputs addressed by writer calls, sorted.
func (p *Program) WriterTargets() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range p.Statements {
		if s.Kind == WriterCall && !seen[s.Name] {
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

// SourceNames returns the referenced sources, sorted.
func (p *Program) SourceNames() []string {
	names := make([]string, 0, len(p.Sources))
	for n := range p.Sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseExpr(text string, line int) (hclsyntax.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(text), filename, hcl.Pos{Line: line, Column: 1})
	if diags.HasErrors() {
		return nil, DiagnosticsError(diags, line)
	}
	return expr, nil
}

// DiagnosticsError folds HCL diagnostics into a ScriptExecutionError that
// keeps only the summary and detail of each problem.
func DiagnosticsError(diags hcl.Diagnostics, fallbackLine int) error {
	line := fallbackLine
	var parts []string
	for _, d := range diags.Errs() {
		var diag *hcl.Diagnostic
		if hd, ok := d.(*hcl.Diagnostic); ok {
			diag = hd
		}
		if diag == nil {
			parts = append(parts, d.Error())
			continue
		}
		if diag.Subject != nil && line == fallbackLine {
			line = diag.Subject.Start.Line
		}
		msg := diag.Summary
		if diag.Detail != "" {
			msg += ": " + diag.Detail
		}
		parts = append(parts, msg)
	}
	return &calcerr.ScriptExecutionError{Line: line, Message: strings.Join(parts, "; "), Err: diags}
}
