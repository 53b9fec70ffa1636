package mcpserver

// Tool descriptions with interpretation guidance for LLMs.
// Each description explains what the tool does, when to use it,
// how to interpret results, and key caveats.

func describeDeadcode() string {
	return `Finds Python symbols (functions, classes, methods, variables) that nothing in the project references.

USE WHEN:
- Cleaning up a codebase before or after a large refactor
- Verifying that a feature removal left no orphaned helpers
- Auditing how much of a module is actually exercised
- Generating a removal worklist with stable identifiers

INTERPRETING RESULTS:
- dead_symbols lists definitions with no evidence of use, in file order
- A symbol is kept alive by: a direct reference, an import binding, a
  dotted-string mention in module-level data, or a framework suppression
  rule (dunder protocol methods, middleware-shaped classes, entry-point
  decorators, decorator chains)
- suppressed_symbols counts live verdicts that came from framework rules
  rather than real references; review these before trusting them
- context_hash identifies a finding across edits that move lines
- warnings report unparseable files and duplicate qualified names; both
  reduce confidence in the surrounding results

METRICS RETURNED:
- dead_symbols: qualified name, kind, file, line, column, context_hash
- summary: totals, dead percentage, per-kind breakdown, warning counts

Note: dynamic dispatch (getattr, exec, plugin registries outside the
project) is invisible to static analysis. Treat results as candidates.`
}

func describeExplainSymbol() string {
	return `Explains why the analyzer considers one symbol live or dead.

USE WHEN:
- A dead verdict looks wrong and you want the reasoning
- Checking what keeps a symbol alive before removing its callers
- Confirming a framework suppression rule applied where expected

INTERPRETING RESULTS:
- live: true means some evidence keeps the symbol; the justification
  names the first piece of evidence found
- justification.reason is one of: direct-reference, string-reference,
  protocol-method, lifecycle-shape, entry-decorator,
  used-by-decorator-chain
- justification.file/line point at the referencing site when one exists
- live: false with no justification means no evidence was found anywhere

METRICS RETURNED:
- symbol: full definition record (kind, location, decorators, bases)
- live flag and justification

Prefer fully qualified dotted names (package.module.Class.method). A bare
name resolves only when exactly one symbol matches it.`
}

func describeGraphStats() string {
	return `Summarizes the resolved reference graph of a Python project.

USE WHEN:
- Finding the most depended-upon symbols before an API change
- Spotting circular reference groups worth untangling
- Sizing a codebase by files, symbols, and reference kinds

INTERPRETING RESULTS:
- top_symbols are ranked by PageRank over resolved references; a high
  rank means many paths lead to that symbol
- in_degree counts distinct referencing edges, out_degree referenced ones
- cycles lists strongly connected symbol groups (mutual references)
- density near 0 is normal for source graphs; rising density with rising
  cycle_count suggests tangled modules

METRICS RETURNED:
- stats: files, symbols, references, per-kind breakdowns
- top_symbols: qualified name, kind, file, pagerank, degrees
- graph: nodes, edges, avg_degree, density, cycle_count
- dead_symbols: count from the same run for context`
}
