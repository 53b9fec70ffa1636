package liveness

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/driftline/vestige/internal/cache"
	"github.com/driftline/vestige/pkg/models"
)

func writePy(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func analyze(t *testing.T, root string, files []string, opts ...Option) *models.Analysis {
	t.Helper()
	a := New(append([]Option{WithRoot(root)}, opts...)...)
	defer a.Close()

	res, err := a.Analyze(context.Background(), files)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return res
}

func deadNames(res *models.Analysis) map[string]bool {
	names := make(map[string]bool)
	for _, d := range res.DeadSymbols {
		names[d.QualifiedName] = true
	}
	return names
}

func verdictFor(t *testing.T, res *models.Analysis, qualified string) models.SymbolVerdict {
	t.Helper()
	for _, v := range res.Verdicts {
		if v.Symbol.QualifiedName == qualified {
			return v
		}
	}
	t.Fatalf("no verdict recorded for %s", qualified)
	return models.SymbolVerdict{}
}

func TestNew(t *testing.T) {
	a := New()
	if a == nil {
		t.Fatal("New() returned nil")
	}
	if a.rules == nil {
		t.Error("analyzer.rules is nil")
	}
	if a.parser == nil {
		t.Error("analyzer.parser is nil")
	}
	a.Close()
}

func TestAnalyzeDeadAndLiveFunctions(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def used():
    return 42

def unused():
    return 0

def main():
    used()

main()
`)

	res := analyze(t, dir, []string{path})
	dead := deadNames(res)

	if !dead["app.unused"] {
		t.Error("'app.unused' should be reported as dead")
	}
	if dead["app.used"] {
		t.Error("'app.used' should not be dead (called from main)")
	}
	if dead["app.main"] {
		t.Error("'app.main' should not be dead (called at module level)")
	}

	sum := res.Summary
	if sum.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want 1", sum.TotalFiles)
	}
	if sum.ReportableSymbols != 3 {
		t.Errorf("ReportableSymbols = %d, want 3", sum.ReportableSymbols)
	}
	if sum.LiveSymbols != 2 {
		t.Errorf("LiveSymbols = %d, want 2", sum.LiveSymbols)
	}
	if sum.DeadCount != 1 {
		t.Errorf("DeadCount = %d, want 1", sum.DeadCount)
	}
	if sum.ByKind["function"] != 1 {
		t.Errorf("ByKind[function] = %d, want 1", sum.ByKind["function"])
	}
}

func TestSelfRecursionIsNotUse(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def factorial(n):
    if n <= 1:
        return 1
    return factorial(n - 1) * n

def is_even(n):
    if n == 0:
        return True
    return is_odd(n - 1)

def is_odd(n):
    if n == 0:
        return False
    return is_even(n - 1)
`)

	res := analyze(t, dir, []string{path})
	dead := deadNames(res)

	if !dead["app.factorial"] {
		t.Error("'app.factorial' should be dead; its only reference is its own recursion")
	}
	if dead["app.is_even"] || dead["app.is_odd"] {
		t.Error("mutually recursive functions reference each other and should stay live")
	}
}

func TestMethodAndClassLiveness(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `class Calculator:
    def add(self, a, b):
        return a + b

    def subtract(self, a, b):
        return a - b


calc = Calculator()
result = calc.add(1, 2)
`)

	res := analyze(t, dir, []string{path})
	dead := deadNames(res)

	if dead["app.Calculator"] {
		t.Error("'app.Calculator' should not be dead (instantiated)")
	}
	if dead["app.Calculator.add"] {
		t.Error("'app.Calculator.add' should not be dead (called through an instance)")
	}
	if !dead["app.Calculator.subtract"] {
		t.Error("'app.Calculator.subtract' should be reported as dead")
	}
	if dead["app.calc"] || dead["app.result"] {
		t.Error("module variables are not reportable and must not appear in the dead set")
	}
}

func TestProtocolMethodsSuppressed(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `class Point:
    def __init__(self, x, y):
        self.x = x
        self.y = y

    def __repr__(self):
        return f"Point({self.x}, {self.y})"

    def helper(self):
        return self.x


p = Point(1, 2)
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))
	dead := deadNames(res)

	if dead["app.Point.__init__"] || dead["app.Point.__repr__"] {
		t.Error("dunder methods should be suppressed, not reported dead")
	}
	if !dead["app.Point.helper"] {
		t.Error("'app.Point.helper' should be reported as dead")
	}

	v := verdictFor(t, res, "app.Point.__init__")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonProtocolMethod {
		t.Errorf("__init__ verdict = %+v, want live with protocol-method reason", v)
	}
	if res.Summary.Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", res.Summary.Suppressed)
	}
}

func TestLifecycleShapeSuppression(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `class LoggingMiddleware(BaseHTTPMiddleware):
    async def dispatch(self, request, call_next):
        return await call_next(request)


class EventFilter(CustomBase):
    async def filter(self, event):
        return event


class Plain:
    async def dispatch(self, request, call_next):
        return await call_next(request)
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))
	dead := deadNames(res)

	if dead["app.LoggingMiddleware"] {
		t.Error("'app.LoggingMiddleware' inherits a known base; the framework drives it")
	}
	if dead["app.LoggingMiddleware.dispatch"] {
		t.Error("'dispatch' on a framework-shaped class should be suppressed")
	}
	if dead["app.EventFilter"] {
		t.Error("'app.EventFilter' declares a base and an async lifecycle method; it should be live")
	}
	if !dead["app.Plain"] {
		t.Error("'app.Plain' has no base; the lifecycle shape does not apply")
	}
	if !dead["app.Plain.dispatch"] {
		t.Error("'app.Plain.dispatch' should be dead; its class does not match the shape")
	}

	v := verdictFor(t, res, "app.LoggingMiddleware")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonLifecycleShape {
		t.Errorf("LoggingMiddleware verdict = %+v, want live with lifecycle-shape reason", v)
	}
}

func TestEntryPointDecorators(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `@app.route("/health")
def health_check():
    return {"status": "ok"}


@fixture
def db_session():
    yield None


def helper():
    return 1
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))
	dead := deadNames(res)

	if dead["app.health_check"] {
		t.Error("'app.health_check' is registered via @app.route and should be live")
	}
	if dead["app.db_session"] {
		t.Error("'app.db_session' is a fixture and should be live")
	}
	if !dead["app.helper"] {
		t.Error("'app.helper' should be reported as dead")
	}

	v := verdictFor(t, res, "app.health_check")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonEntryDecorator {
		t.Errorf("health_check verdict = %+v, want live with entry-decorator reason", v)
	}
}

func TestUsedByDecoratorChain(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def retry(fn):
    def wrapper(*args, **kwargs):
        return fn(*args, **kwargs)
    return wrapper


@retry
def flaky():
    return 1


flaky()
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))

	if len(res.DeadSymbols) != 0 {
		t.Errorf("DeadSymbols = %v, want none", res.DeadSymbols)
	}

	v := verdictFor(t, res, "app.retry")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonDecoratorChain {
		t.Errorf("retry verdict = %+v, want live with used-by-decorator-chain reason", v)
	}
	if v.Symbol.Kind != models.KindDecorator {
		t.Errorf("retry kind = %s, want decorator", v.Symbol.Kind)
	}

	v = verdictFor(t, res, "app.flaky")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonDirectReference {
		t.Errorf("flaky verdict = %+v, want live with direct-reference reason", v)
	}
}

func TestStringReferences(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "handlers.py", `def start_handler():
    return 1


def stop_handler():
    return 2


def stale_handler():
    return 3


HANDLERS = {
    "on_start": "handlers.start_handler",
    "on_stop": "app.handlers.stop_handler",
    "missing": "handlers.not_defined",
}
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))
	dead := deadNames(res)

	if dead["handlers.start_handler"] {
		t.Error("'start_handler' is named in a module-level dict and should be live")
	}
	if dead["handlers.stop_handler"] {
		t.Error("'stop_handler' should match a string with extra leading segments")
	}
	if !dead["handlers.stale_handler"] {
		t.Error("'stale_handler' should be reported as dead")
	}

	v := verdictFor(t, res, "handlers.start_handler")
	if !v.Live || v.Justification == nil || v.Justification.Reason != models.ReasonStringReference {
		t.Errorf("start_handler verdict = %+v, want live with string-reference reason", v)
	}
	if res.Summary.StringReferenced != 2 {
		t.Errorf("StringReferenced = %d, want 2", res.Summary.StringReferenced)
	}
	// The unresolvable "handlers.not_defined" entry is discarded silently.
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
}

func TestStringReferencesDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "handlers.py", `def start_handler():
    return 1


HANDLERS = {"on_start": "handlers.start_handler"}
`)

	rules := DefaultRules()
	rules.StringReferences = false
	res := analyze(t, dir, []string{path}, WithRules(rules))

	if !deadNames(res)["handlers.start_handler"] {
		t.Error("with string references disabled, 'start_handler' should be dead")
	}
}

func TestMinSuffixSegments(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "handlers.py", `def start_handler():
    return 1


HANDLERS = {"on_start": "handlers.start_handler"}
`)

	rules := DefaultRules()
	rules.MinSuffixSegments = 3
	res := analyze(t, dir, []string{path}, WithRules(rules))

	if !deadNames(res)["handlers.start_handler"] {
		t.Error("a two-segment string cannot satisfy a three-segment minimum")
	}
}

func TestImportBindingKeepsSymbolLive(t *testing.T) {
	dir := t.TempDir()
	util := writePy(t, dir, "util.py", `def parse(text):
    return text.split()


def orphan():
    return None
`)
	app := writePy(t, dir, "app.py", `from util import parse as parse_text

__all__ = ["parse"]
`)

	res := analyze(t, dir, []string{util, app})
	dead := deadNames(res)

	if dead["util.parse"] {
		t.Error("'util.parse' is imported elsewhere and should be live")
	}
	if !dead["util.orphan"] {
		t.Error("'util.orphan' should be reported as dead")
	}
}

func TestParseErrorRecovery(t *testing.T) {
	dir := t.TempDir()
	good1 := writePy(t, dir, "good1.py", `def alpha():
    return 1

alpha()
`)
	broken := writePy(t, dir, "broken.py", "def broken(:\n    pass\n")
	good2 := writePy(t, dir, "good2.py", `def beta():
    return 2
`)

	res := analyze(t, dir, []string{good1, broken, good2})

	if len(res.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(res.Warnings))
	}
	w := res.Warnings[0]
	if w.Kind != models.WarnParseError {
		t.Errorf("warning kind = %s, want parse-error", w.Kind)
	}
	if w.File != broken {
		t.Errorf("warning file = %s, want %s", w.File, broken)
	}

	if res.Summary.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", res.Summary.TotalFiles)
	}
	if res.Summary.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", res.Summary.FilesFailed)
	}

	dead := deadNames(res)
	if dead["good1.alpha"] {
		t.Error("'good1.alpha' should still be analyzed and live")
	}
	if !dead["good2.beta"] {
		t.Error("'good2.beta' should still be analyzed and dead")
	}
}

func TestAmbiguousNameLastSeenWins(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def task():
    return 1


def task():
    return 2


task()
`)

	res := analyze(t, dir, []string{path}, WithVerdicts(true))

	if len(res.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(res.Warnings))
	}
	if res.Warnings[0].Kind != models.WarnAmbiguousName {
		t.Errorf("warning kind = %s, want ambiguous-name", res.Warnings[0].Kind)
	}

	// References bind to the last definition; the shadowed one is dead.
	if len(res.DeadSymbols) != 1 {
		t.Fatalf("len(DeadSymbols) = %d, want 1", len(res.DeadSymbols))
	}
	if res.DeadSymbols[0].QualifiedName != "app.task" || res.DeadSymbols[0].Line != 1 {
		t.Errorf("dead symbol = %+v, want app.task at line 1", res.DeadSymbols[0])
	}

	for _, v := range res.Verdicts {
		if v.Symbol.QualifiedName == "app.task" && v.Symbol.Line == 5 && !v.Live {
			t.Error("the surviving definition at line 5 should be live")
		}
	}
}

func TestLambdaAssignmentIsFunction(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `square = lambda x: x * x
double = lambda x: x + x

print(square(4))
`)

	res := analyze(t, dir, []string{path})

	if deadNames(res)["app.square"] {
		t.Error("'app.square' should not be dead (called)")
	}
	if len(res.DeadSymbols) != 1 {
		t.Fatalf("len(DeadSymbols) = %d, want 1", len(res.DeadSymbols))
	}
	d := res.DeadSymbols[0]
	if d.QualifiedName != "app.double" {
		t.Errorf("dead symbol = %s, want app.double", d.QualifiedName)
	}
	if d.Kind != models.KindFunction {
		t.Errorf("dead kind = %s, want function (lambda assignment)", d.Kind)
	}
}

func TestEmptyInput(t *testing.T) {
	a := New()
	defer a.Close()

	res, err := a.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.DeadSymbols == nil || len(res.DeadSymbols) != 0 {
		t.Errorf("DeadSymbols = %v, want empty non-nil", res.DeadSymbols)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
	if res.Summary.TotalFiles != 0 || res.Summary.DeadCount != 0 {
		t.Errorf("Summary = %+v, want zeros", res.Summary)
	}
}

func TestIncrementalUpdateMatchesFresh(t *testing.T) {
	dir := t.TempDir()
	lib := writePy(t, dir, "lib.py", `def helper():
    return 1


def unused():
    return 0
`)
	main := writePy(t, dir, "main.py", `from lib import helper

helper()
`)

	a := New(WithRoot(dir))
	defer a.Close()

	first, err := a.Analyze(context.Background(), []string{lib, main})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !deadNames(first)["lib.unused"] || deadNames(first)["lib.helper"] {
		t.Fatalf("unexpected initial dead set: %v", first.DeadSymbols)
	}

	// Drop the import and re-extract just that file.
	writePy(t, dir, "main.py", "VALUE = 1\n")
	if err := a.UpdateFile(context.Background(), main); err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}
	incremental := a.Resolve()

	fresh := analyze(t, dir, []string{lib, main})
	if !reflect.DeepEqual(incremental.DeadSymbols, fresh.DeadSymbols) {
		t.Errorf("incremental dead set %v != fresh dead set %v", incremental.DeadSymbols, fresh.DeadSymbols)
	}
	if !deadNames(incremental)["lib.helper"] {
		t.Error("'lib.helper' lost its last reference and should now be dead")
	}

	a.RemoveFile(main)
	afterRemove := a.Resolve()
	freshSingle := analyze(t, dir, []string{lib})
	if !reflect.DeepEqual(afterRemove.DeadSymbols, freshSingle.DeadSymbols) {
		t.Errorf("dead set after removal %v != fresh single-file %v", afterRemove.DeadSymbols, freshSingle.DeadSymbols)
	}
	if afterRemove.Summary.TotalFiles != 1 {
		t.Errorf("TotalFiles after removal = %d, want 1", afterRemove.Summary.TotalFiles)
	}
}

func TestUpdateFileParseError(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def solo():
    return 1
`)

	a := New(WithRoot(dir))
	defer a.Close()

	first, err := a.Analyze(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(first.DeadSymbols) != 1 {
		t.Fatalf("len(DeadSymbols) = %d, want 1", len(first.DeadSymbols))
	}

	writePy(t, dir, "app.py", "def solo(:\n    return 1\n")
	if err := a.UpdateFile(context.Background(), path); err != nil {
		t.Fatalf("UpdateFile on broken file should warn, not fail: %v", err)
	}

	res := a.Resolve()
	if len(res.DeadSymbols) != 0 {
		t.Errorf("DeadSymbols = %v, want none after the file dropped out", res.DeadSymbols)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != models.WarnParseError {
		t.Errorf("Warnings = %v, want one parse-error", res.Warnings)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writePy(t, dir, "app.py", `def used():
    return 1


def unused():
    return 0


used()
`)

	c, err := cache.New(t.TempDir(), 24, true)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}

	a1 := New(WithRoot(dir), WithCache(c))
	first, err := a1.Analyze(context.Background(), []string{path})
	a1.Close()
	if err != nil {
		t.Fatalf("first Analyze failed: %v", err)
	}

	st, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.Entries != 1 {
		t.Errorf("cache entries = %d, want 1", st.Entries)
	}

	// Second run re-reads the extraction record instead of parsing.
	a2 := New(WithRoot(dir), WithCache(c))
	second, err := a2.Analyze(context.Background(), []string{path})
	a2.Close()
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}

	if !reflect.DeepEqual(first.DeadSymbols, second.DeadSymbols) {
		t.Errorf("cached dead set %v != fresh dead set %v", second.DeadSymbols, first.DeadSymbols)
	}
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Errorf("cached summary %+v != fresh summary %+v", second.Summary, first.Summary)
	}
}

func TestDeadSetFollowsInputOrder(t *testing.T) {
	dir := t.TempDir()
	b := writePy(t, dir, "b.py", "def beta():\n    return 2\n")
	a := writePy(t, dir, "a.py", "def alpha():\n    return 1\n\ndef gamma():\n    return 3\n")

	// b.py first in the input, so its dead symbol reports first.
	res := analyze(t, dir, []string{b, a})

	want := []string{"b.beta", "a.alpha", "a.gamma"}
	if len(res.DeadSymbols) != len(want) {
		t.Fatalf("len(DeadSymbols) = %d, want %d", len(res.DeadSymbols), len(want))
	}
	for i, name := range want {
		if res.DeadSymbols[i].QualifiedName != name {
			t.Errorf("DeadSymbols[%d] = %s, want %s", i, res.DeadSymbols[i].QualifiedName, name)
		}
	}
}
