package liveness

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/driftline/vestige/pkg/config"
)

// Rules are the suppression and resolution settings for one run, compiled
// from configuration at construction. The engine never reads configuration
// itself.
type Rules struct {
	EntryPointDecorators []string
	LifecycleMethodNames []string
	KnownBaseClasses     []string
	ProtocolMethod       *regexp.Regexp
	MinSuffixSegments    int
	StringReferences     bool
}

// RulesFromConfig compiles the rule section of a configuration.
func RulesFromConfig(rc config.RulesConfig) (Rules, error) {
	re, err := regexp.Compile(rc.ProtocolMethodPattern)
	if err != nil {
		return Rules{}, fmt.Errorf("invalid protocol method pattern %q: %w", rc.ProtocolMethodPattern, err)
	}
	min := rc.MinSuffixSegments
	if min < 1 {
		min = 1
	}
	return Rules{
		EntryPointDecorators: rc.EntryPointDecorators,
		LifecycleMethodNames: rc.LifecycleMethodNames,
		KnownBaseClasses:     rc.KnownBaseClasses,
		ProtocolMethod:       re,
		MinSuffixSegments:    min,
		StringReferences:     rc.StringReferences,
	}, nil
}

// DefaultRules mirrors the built-in configuration defaults.
func DefaultRules() Rules {
	r, err := RulesFromConfig(config.DefaultConfig().Rules)
	if err != nil {
		panic(err) // the built-in pattern always compiles
	}
	return r
}

// ruleSet is Rules with membership sets precomputed for the hot paths.
type ruleSet struct {
	Rules
	lifecycle  map[string]bool
	knownBases map[string]bool
	entryExact map[string]bool // dotted entries, matched against the whole path
	entryBare  map[string]bool // single-segment entries, matched against the final segment
}

func newRuleSet(r Rules) *ruleSet {
	s := &ruleSet{
		Rules:      r,
		lifecycle:  make(map[string]bool, len(r.LifecycleMethodNames)),
		knownBases: make(map[string]bool, len(r.KnownBaseClasses)),
		entryExact: make(map[string]bool),
		entryBare:  make(map[string]bool),
	}
	for _, n := range r.LifecycleMethodNames {
		s.lifecycle[n] = true
	}
	for _, n := range r.KnownBaseClasses {
		s.knownBases[n] = true
	}
	for _, n := range r.EntryPointDecorators {
		if strings.Contains(n, ".") {
			s.entryExact[n] = true
		} else {
			s.entryBare[n] = true
		}
	}
	return s
}

// matchEntryDecorator tests one applied decorator against the configured
// entry-point set. Call arguments are stripped first; dotted entries need
// the whole dotted path, bare entries match the final segment.
func (s *ruleSet) matchEntryDecorator(applied string) (string, bool) {
	m := stripCallArgs(applied)
	if s.entryExact[m] {
		return m, true
	}
	if s.entryBare[tail(m)] {
		return m, true
	}
	return "", false
}

// matchKnownBase tests declared bases against the known-base set by final
// dotted segment.
func (s *ruleSet) matchKnownBase(bases []string) (string, bool) {
	for _, b := range bases {
		if s.knownBases[tail(b)] {
			return b, true
		}
	}
	return "", false
}

// stripCallArgs cuts a decorator expression down to its dotted callee.
func stripCallArgs(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// tail returns the final dotted segment of a name.
func tail(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
