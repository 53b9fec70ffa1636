package liveness

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/zeebo/blake3"

	"github.com/driftline/vestige/pkg/models"
	"github.com/driftline/vestige/pkg/parser"
)

// fileExtract is everything one parsed file contributes to the analysis.
// The exported fields make the record cacheable as JSON.
type fileExtract struct {
	Path       string             `json:"path"`
	Module     string             `json:"module"`
	Symbols    []models.Symbol    `json:"symbols"`
	References []models.Reference `json:"references"`
}

// modulePath derives the dotted module path of a Python file from its
// location relative to the analysis root. __init__.py maps to its package.
func modulePath(root, path string) string {
	rel := filepath.Base(path)
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		} else {
			rel = path
		}
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))

	var segs []string
	for _, p := range strings.Split(rel, "/") {
		if p != "" && p != "." {
			segs = append(segs, p)
		}
	}
	if n := len(segs); n > 0 && segs[n-1] == "__init__" {
		segs = segs[:n-1]
	}
	if len(segs) == 0 {
		if root != "" {
			return filepath.Base(root)
		}
		return filepath.Base(filepath.Dir(path))
	}
	return strings.Join(segs, ".")
}

// extractor performs the single-pass walk over one file's syntax tree.
type extractor struct {
	src    []byte
	path   string
	proto  *regexp.Regexp
	out    *fileExtract
	scopes []scopeFrame
}

type scopeFrame struct {
	qualified string
	kind      models.SymbolKind
}

type decoratorInfo struct {
	raw   string // verbatim text minus the leading @
	match string // call arguments stripped
	line  uint32
	col   uint32
}

// extract walks one parsed file and collects its definitions and references.
func extract(res *parser.ParseResult, module string, proto *regexp.Regexp) *fileExtract {
	e := &extractor{
		src:   res.Source,
		path:  res.Path,
		proto: proto,
		out:   &fileExtract{Path: res.Path, Module: module},
	}
	e.out.Symbols = append(e.out.Symbols, models.Symbol{
		QualifiedName: module,
		Name:          tail(module),
		Kind:          models.KindModule,
		File:          res.Path,
		Line:          1,
		ContextHash:   e.contextHash(module, 1),
	})
	e.scopes = append(e.scopes, scopeFrame{qualified: module, kind: models.KindModule})

	root := res.Tree.RootNode()
	for i := 0; i < int(root.ChildCount()); i++ {
		e.walk(root.Child(i))
	}
	return e.out
}

func (e *extractor) walk(n *sitter.Node) {
	switch n.Type() {
	case "comment", "pass_statement", "break_statement", "continue_statement",
		"global_statement", "nonlocal_statement", "future_import_statement":
		return
	case "decorated_definition":
		e.definition(n.ChildByFieldName("definition"), e.decorators(n))
	case "function_definition", "class_definition":
		e.definition(n, nil)
	case "import_statement":
		e.importPlain(n)
	case "import_from_statement":
		e.importFrom(n)
	case "assignment":
		e.assignment(n)
	case "augmented_assignment":
		// The target is read before it is written; both sides are uses.
		e.children(n)
	case "for_statement", "for_in_clause":
		left := n.ChildByFieldName("left")
		e.storeTarget(left)
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); !sameNode(c, left) {
				e.walk(c)
			}
		}
	case "named_expression", "keyword_argument":
		if v := n.ChildByFieldName("value"); v != nil {
			e.walk(v)
		}
	case "parameters", "lambda_parameters":
		e.parameters(n)
	case "as_pattern":
		if c := n.NamedChild(0); c != nil {
			e.walk(c)
		}
	case "except_clause":
		e.exceptClause(n)
	case "call":
		e.call(n)
	case "attribute":
		e.attributeExpr(n)
	case "identifier":
		e.addRef(e.text(n), models.RefDirectCall, n)
	case "string":
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c.Type() == "interpolation" {
				e.children(c)
			}
		}
	default:
		e.children(n)
	}
}

func (e *extractor) children(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		e.walk(n.Child(i))
	}
}

// definition records a function or class symbol and walks its pieces with
// the right scopes: bases, annotations, and parameter defaults evaluate in
// the enclosing scope, the body in the new one.
func (e *extractor) definition(n *sitter.Node, decs []decoratorInfo) {
	if n == nil {
		return
	}
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := e.text(nameNode)
	parent := e.scopes[len(e.scopes)-1]
	qualified := parent.qualified + "." + name
	isClass := n.Type() == "class_definition"

	kind := models.KindFunction
	switch {
	case isClass:
		kind = models.KindClass
	case parent.kind == models.KindClass:
		kind = models.KindMethod
	}

	sym := models.Symbol{
		QualifiedName: qualified,
		Name:          name,
		Kind:          kind,
		File:          e.path,
		Line:          n.StartPoint().Row + 1,
		Column:        n.StartPoint().Column,
		EndLine:       n.EndPoint().Row + 1,
		Scope:         e.scope(),
		Protocol:      e.proto != nil && e.proto.MatchString(name),
		Reportable:    parent.kind == models.KindModule || parent.kind == models.KindClass,
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "async" {
			sym.Async = true
			break
		}
	}
	for _, d := range decs {
		sym.Decorators = append(sym.Decorators, d.raw)
		// The application reference belongs to the decorated definition.
		e.addScopedRef(d.match, models.RefDecorator, d.line, d.col, qualified)
	}

	var sup *sitter.Node
	if isClass {
		if sup = n.ChildByFieldName("superclasses"); sup != nil {
			sym.Bases = e.baseNames(sup)
		}
	}
	sym.ContextHash = e.contextHash(qualified, sym.Line)
	e.out.Symbols = append(e.out.Symbols, sym)

	if sup != nil {
		e.children(sup) // base expressions are uses
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		e.parameters(params)
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		e.walk(ret)
	}

	frameKind := models.KindFunction
	if isClass {
		frameKind = models.KindClass
	}
	e.scopes = append(e.scopes, scopeFrame{qualified: qualified, kind: frameKind})
	if body := n.ChildByFieldName("body"); body != nil {
		e.children(body)
	}
	e.scopes = e.scopes[:len(e.scopes)-1]
}

// decorators collects the decorator list of a decorated_definition.
// Arguments passed to a decorator factory are ordinary uses and are walked;
// the callee itself is not, it feeds only the decorator-application
// reference recorded by definition.
func (e *extractor) decorators(n *sitter.Node) []decoratorInfo {
	var decs []decoratorInfo
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() != "decorator" {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(e.text(c), "@"))
		decs = append(decs, decoratorInfo{
			raw:   raw,
			match: stripCallArgs(raw),
			line:  c.StartPoint().Row + 1,
			col:   c.StartPoint().Column,
		})
		for j := 0; j < int(c.ChildCount()); j++ {
			switch cc := c.Child(j); cc.Type() {
			case "call":
				if args := cc.ChildByFieldName("arguments"); args != nil {
					e.children(args)
				}
			case "argument_list":
				e.children(cc)
			}
		}
	}
	return decs
}

// assignment records variable symbols for module- and class-level targets
// and walks both sides for references. A lambda right-hand side promotes
// the symbol to function kind; a dict or list right-hand side at module
// level is scanned for string reference candidates.
func (e *extractor) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	top := e.scopes[len(e.scopes)-1]
	atDef := top.kind == models.KindModule || top.kind == models.KindClass
	isLambda := right != nil && right.Type() == "lambda"

	var targets []*sitter.Node
	if atDef {
		targets = identifierTargets(left)
		for _, t := range targets {
			name := e.text(t)
			qualified := top.qualified + "." + name
			kind := models.KindVariable
			reportable := false
			if isLambda {
				kind = models.KindFunction
				reportable = true
			}
			e.out.Symbols = append(e.out.Symbols, models.Symbol{
				QualifiedName: qualified,
				Name:          name,
				Kind:          kind,
				File:          e.path,
				Line:          t.StartPoint().Row + 1,
				Column:        t.StartPoint().Column,
				EndLine:       n.EndPoint().Row + 1,
				Scope:         e.scope(),
				Reportable:    reportable,
				ContextHash:   e.contextHash(qualified, t.StartPoint().Row+1),
			})
		}
		if top.kind == models.KindModule && right != nil {
			if rt := right.Type(); rt == "dictionary" || rt == "list" {
				e.dataStrings(right)
			}
		}
	}

	e.storeTarget(left)
	if t := n.ChildByFieldName("type"); t != nil {
		e.walk(t)
	}
	if right == nil {
		return
	}
	if isLambda && atDef && len(targets) == 1 {
		// Scope the lambda body to the assigned name so recursion inside it
		// is discarded like any other self-reference.
		e.scopes = append(e.scopes, scopeFrame{
			qualified: top.qualified + "." + e.text(targets[0]),
			kind:      models.KindFunction,
		})
		e.walk(right)
		e.scopes = e.scopes[:len(e.scopes)-1]
		return
	}
	e.walk(right)
}

// parameters walks only the evaluated parts of a parameter list: default
// values and annotations. Parameter names are bindings, not uses.
func (e *extractor) parameters(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "default_parameter", "typed_default_parameter":
			if v := c.ChildByFieldName("value"); v != nil {
				e.walk(v)
			}
			if t := c.ChildByFieldName("type"); t != nil {
				e.walk(t)
			}
		case "typed_parameter":
			if t := c.ChildByFieldName("type"); t != nil {
				e.walk(t)
			}
		}
	}
}

// exceptClause walks the matched exception expression but not the alias
// bound after "as".
func (e *extractor) exceptClause(n *sitter.Node) {
	prevAs := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "as" {
			prevAs = true
			continue
		}
		if prevAs && c.Type() == "identifier" {
			prevAs = false
			continue
		}
		prevAs = false
		e.walk(c)
	}
}

// call records the callee reference and walks the arguments.
func (e *extractor) call(n *sitter.Node) {
	if fn := n.ChildByFieldName("function"); fn != nil {
		switch fn.Type() {
		case "identifier":
			e.addRef(e.text(fn), models.RefDirectCall, fn)
		case "attribute":
			e.attributeExpr(fn)
		default:
			e.walk(fn)
		}
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		e.children(args)
	}
}

// attributeExpr records one attribute-access reference for a dotted chain,
// plus a direct reference to the chain's base name. Chains hanging off
// calls or subscripts keep only their trailing name segments; the non-name
// part is walked on its own.
func (e *extractor) attributeExpr(n *sitter.Node) {
	text, base := attrChain(n, e.src)
	if text != "" {
		e.addRef(text, models.RefAttribute, n)
	}
	if base != nil {
		e.addRef(e.text(base), models.RefDirectCall, base)
		return
	}
	cur := n
	for cur != nil && cur.Type() == "attribute" {
		cur = cur.ChildByFieldName("object")
	}
	if cur != nil {
		e.walk(cur)
	}
}

// importPlain handles `import a.b, c as d`.
func (e *extractor) importPlain(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		switch c := n.Child(i); c.Type() {
		case "dotted_name":
			e.addRef(e.text(c), models.RefImport, c)
		case "aliased_import":
			if name := c.ChildByFieldName("name"); name != nil {
				e.addRef(e.text(name), models.RefImport, name)
			}
		}
	}
}

// importFrom handles `from a.b import c, d as x`, recording the module and
// each imported name joined to it. Leading dots of relative imports are
// dropped.
func (e *extractor) importFrom(n *sitter.Node) {
	modNode := n.ChildByFieldName("module_name")
	mod := ""
	if modNode != nil {
		mod = strings.TrimLeft(e.text(modNode), ".")
		if mod != "" {
			e.addRef(mod, models.RefImport, modNode)
		}
	}
	join := func(name string) string {
		if mod == "" {
			return name
		}
		return mod + "." + name
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if sameNode(c, modNode) {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			e.addRef(join(e.text(c)), models.RefImport, c)
		case "aliased_import":
			if name := c.ChildByFieldName("name"); name != nil {
				e.addRef(join(e.text(name)), models.RefImport, name)
			}
		}
	}
}

// dataStrings collects dotted-path string literals nested anywhere inside a
// module-level dict or list literal. Bare words are skipped; only strings
// shaped like qualified names can be configuration references.
func (e *extractor) dataStrings(n *sitter.Node) {
	parser.Walk(n, e.src, func(node *sitter.Node, src []byte) bool {
		if node.Type() != "string" {
			return true
		}
		if v := stringValue(parser.GetNodeText(node, src)); isDottedPath(v) {
			e.addScopedRef(v, models.RefStringLiteral, node.StartPoint().Row+1, node.StartPoint().Column, "")
		}
		return true
	})
}

// storeTarget walks the value-bearing parts of an assignment target. Plain
// name bindings are skipped; subscript and attribute targets read their
// base object before storing.
func (e *extractor) storeTarget(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		return
	case "pattern_list", "tuple_pattern", "list_pattern", "list_splat_pattern":
		for i := 0; i < int(n.ChildCount()); i++ {
			e.storeTarget(n.Child(i))
		}
	default:
		e.walk(n)
	}
}

func (e *extractor) scope() string {
	if len(e.scopes) <= 1 {
		return ""
	}
	return e.scopes[len(e.scopes)-1].qualified
}

func (e *extractor) text(n *sitter.Node) string {
	return parser.GetNodeText(n, e.src)
}

func (e *extractor) addRef(target string, kind models.ReferenceKind, n *sitter.Node) {
	e.addScopedRef(target, kind, n.StartPoint().Row+1, n.StartPoint().Column, e.scope())
}

func (e *extractor) addScopedRef(target string, kind models.ReferenceKind, line, col uint32, scope string) {
	if target == "" {
		return
	}
	e.out.References = append(e.out.References, models.Reference{
		Target: target,
		Kind:   kind,
		File:   e.path,
		Line:   line,
		Column: col,
		Scope:  scope,
	})
}

// contextHash fingerprints a definition site: file, qualified name, and the
// text of the definition line. Moving the definition within the file keeps
// the hash stable; editing its signature changes it.
func (e *extractor) contextHash(qualified string, line uint32) string {
	h := blake3.New()
	h.Write([]byte(e.path))
	h.Write([]byte{0})
	h.Write([]byte(qualified))
	h.Write([]byte{0})
	h.Write(bytes.TrimSpace(e.lineText(line)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

func (e *extractor) lineText(line uint32) []byte {
	cur := uint32(1)
	for i := 0; i <= len(e.src); i++ {
		if cur == line {
			end := i
			for end < len(e.src) && e.src[end] != '\n' {
				end++
			}
			return e.src[i:end]
		}
		if i < len(e.src) && e.src[i] == '\n' {
			cur++
		}
	}
	return nil
}

// baseNames lists declared bases as written, skipping keyword arguments
// like metaclass= and anything that is not a plain or dotted name.
func (e *extractor) baseNames(sup *sitter.Node) []string {
	var bases []string
	for i := 0; i < int(sup.ChildCount()); i++ {
		switch c := sup.Child(i); c.Type() {
		case "identifier":
			bases = append(bases, e.text(c))
		case "attribute":
			if text, base := attrChain(c, e.src); base != nil {
				bases = append(bases, text)
			}
		}
	}
	return bases
}

// attrChain flattens an attribute node into its dotted text. base is the
// leftmost identifier, nil when the chain hangs off something that is not
// a plain name.
func attrChain(n *sitter.Node, src []byte) (string, *sitter.Node) {
	var segs []string
	cur := n
	for cur != nil && cur.Type() == "attribute" {
		attr := cur.ChildByFieldName("attribute")
		if attr == nil {
			return "", nil
		}
		segs = append(segs, parser.GetNodeText(attr, src))
		cur = cur.ChildByFieldName("object")
	}
	var base *sitter.Node
	if cur != nil && cur.Type() == "identifier" {
		segs = append(segs, parser.GetNodeText(cur, src))
		base = cur
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "."), base
}

// identifierTargets returns the plain identifier targets of an assignment
// left-hand side, unpacking tuple and list patterns.
func identifierTargets(left *sitter.Node) []*sitter.Node {
	if left == nil {
		return nil
	}
	switch left.Type() {
	case "identifier":
		return []*sitter.Node{left}
	case "pattern_list", "tuple_pattern", "list_pattern":
		var out []*sitter.Node
		for i := 0; i < int(left.ChildCount()); i++ {
			out = append(out, identifierTargets(left.Child(i))...)
		}
		return out
	}
	return nil
}

// stringValue strips prefixes and quotes from a string literal's source
// text.
func stringValue(text string) string {
	s := strings.TrimLeft(text, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// isDottedPath reports whether a string looks like a qualified Python name
// with at least two segments.
func isDottedPath(s string) bool {
	segs := strings.Split(s, ".")
	if len(segs) < 2 {
		return false
	}
	for _, seg := range segs {
		if !isIdent(seg) {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}
