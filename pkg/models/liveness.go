package models

// SymbolKind classifies a definition tracked by the symbol table.
type SymbolKind string

const (
	KindModule    SymbolKind = "module"
	KindClass     SymbolKind = "class"
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindVariable  SymbolKind = "variable"
	KindDecorator SymbolKind = "decorator"
)

// ReferenceKind classifies how a use of a name was observed.
type ReferenceKind string

const (
	RefDirectCall    ReferenceKind = "direct-call"
	RefAttribute     ReferenceKind = "attribute-access"
	RefDecorator     ReferenceKind = "decorator-application"
	RefStringLiteral ReferenceKind = "string-literal-in-data-structure"
	RefImport        ReferenceKind = "import-binding"
)

// JustificationReason identifies which evidence path marked a symbol live.
type JustificationReason string

const (
	ReasonDirectReference JustificationReason = "direct-reference"
	ReasonStringReference JustificationReason = "string-reference"
	ReasonProtocolMethod  JustificationReason = "protocol-method"
	ReasonLifecycleShape  JustificationReason = "lifecycle-shape"
	ReasonEntryDecorator  JustificationReason = "entry-decorator"
	ReasonDecoratorChain  JustificationReason = "used-by-decorator-chain"
)

// Symbol is a single definition with its fully-qualified dotted name.
type Symbol struct {
	QualifiedName string     `json:"qualified_name" toon:"qualified_name"`
	Name          string     `json:"name" toon:"name"`
	Kind          SymbolKind `json:"kind" toon:"kind"`
	File          string     `json:"file" toon:"file"`
	Line          uint32     `json:"line" toon:"line"`
	Column        uint32     `json:"column" toon:"column"`
	EndLine       uint32     `json:"end_line,omitempty" toon:"end_line,omitempty"`
	Scope         string     `json:"scope,omitempty" toon:"scope,omitempty"` // qualified name of enclosing definition
	Decorators    []string   `json:"decorators,omitempty" toon:"decorators,omitempty"`
	Bases         []string   `json:"bases,omitempty" toon:"bases,omitempty"` // declared base classes, classes only
	Async         bool       `json:"async,omitempty" toon:"async,omitempty"`
	Protocol      bool       `json:"protocol,omitempty" toon:"protocol,omitempty"` // name matches the protocol-method pattern
	Reportable    bool       `json:"reportable" toon:"reportable"`
	ContextHash   string     `json:"context_hash,omitempty" toon:"context_hash,omitempty"` // fingerprint of the definition site
}

// Reference is an observed use of a name, not yet resolved to a symbol.
type Reference struct {
	Target string        `json:"target" toon:"target"`
	Kind   ReferenceKind `json:"kind" toon:"kind"`
	File   string        `json:"file" toon:"file"`
	Line   uint32        `json:"line" toon:"line"`
	Column uint32        `json:"column" toon:"column"`
	Scope  string        `json:"scope,omitempty" toon:"scope,omitempty"` // qualified name of enclosing definition
}

// Justification records why a live symbol was kept. Dead symbols carry none.
type Justification struct {
	Reason JustificationReason `json:"reason" toon:"reason"`
	Detail string              `json:"detail" toon:"detail"`
	File   string              `json:"file,omitempty" toon:"file,omitempty"`
	Line   uint32              `json:"line,omitempty" toon:"line,omitempty"`
}

// DeadSymbol is one entry of the report: a reportable symbol with no evidence
// of use.
type DeadSymbol struct {
	QualifiedName string     `json:"qualified_name" toon:"qualified_name"`
	Kind          SymbolKind `json:"kind" toon:"kind"`
	File          string     `json:"file" toon:"file"`
	Line          uint32     `json:"line" toon:"line"`
	Column        uint32     `json:"column" toon:"column"`
	ContextHash   string     `json:"context_hash,omitempty" toon:"context_hash,omitempty"`
}

// SymbolVerdict pairs a symbol with its liveness outcome.
type SymbolVerdict struct {
	Symbol        Symbol         `json:"symbol" toon:"symbol"`
	Live          bool           `json:"live" toon:"live"`
	Justification *Justification `json:"justification,omitempty" toon:"justification,omitempty"`
}

// WarningKind classifies non-fatal conditions surfaced alongside the report.
type WarningKind string

const (
	WarnParseError    WarningKind = "parse-error"
	WarnAmbiguousName WarningKind = "ambiguous-name"
)

// Warning is a recovered per-file or per-symbol problem. Warnings accompany
// the result, they never replace it.
type Warning struct {
	Kind    WarningKind `json:"kind" toon:"kind"`
	File    string      `json:"file" toon:"file"`
	Line    uint32      `json:"line,omitempty" toon:"line,omitempty"`
	Message string      `json:"message" toon:"message"`
}

// Analysis is the full liveness result for one run.
type Analysis struct {
	Root        string          `json:"root,omitempty" toon:"root,omitempty"`
	DeadSymbols []DeadSymbol    `json:"dead_symbols" toon:"dead_symbols"`
	Warnings    []Warning       `json:"warnings,omitempty" toon:"warnings,omitempty"`
	Verdicts    []SymbolVerdict `json:"verdicts,omitempty" toon:"verdicts,omitempty"`
	Summary     Summary         `json:"summary" toon:"summary"`
}

// Summary provides aggregate statistics for one run.
type Summary struct {
	TotalFiles        int            `json:"total_files" toon:"total_files"`
	FilesFailed       int            `json:"files_failed" toon:"files_failed"`
	TotalSymbols      int            `json:"total_symbols" toon:"total_symbols"`
	ReportableSymbols int            `json:"reportable_symbols" toon:"reportable_symbols"`
	LiveSymbols       int            `json:"live_symbols" toon:"live_symbols"`
	DeadCount         int            `json:"dead_symbols" toon:"dead_symbols"`
	Suppressed        int            `json:"suppressed_symbols" toon:"suppressed_symbols"`
	StringReferenced  int            `json:"string_referenced" toon:"string_referenced"`
	TotalReferences   int            `json:"total_references" toon:"total_references"`
	DeadPercentage    float64        `json:"dead_percentage" toon:"dead_percentage"`
	ByKind            map[string]int `json:"by_kind" toon:"by_kind"`
	ByFile            map[string]int `json:"by_file" toon:"by_file"`
}

// NewSummary creates an initialized summary.
func NewSummary() Summary {
	return Summary{
		ByKind: make(map[string]int),
		ByFile: make(map[string]int),
	}
}

// AddDeadSymbol updates the summary with one dead symbol.
func (s *Summary) AddDeadSymbol(d DeadSymbol) {
	s.DeadCount++
	s.ByKind[string(d.Kind)]++
	s.ByFile[d.File]++
}

// CalculatePercentage computes the dead share of reportable symbols.
func (s *Summary) CalculatePercentage() {
	if s.ReportableSymbols > 0 {
		s.DeadPercentage = float64(s.DeadCount) / float64(s.ReportableSymbols) * 100
	}
}
