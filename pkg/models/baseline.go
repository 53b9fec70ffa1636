package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BaselineVersion is the current baseline file format version.
const BaselineVersion = 1

// Baseline is an accepted-dead list: symbols the report should stop flagging
// until their definition changes.
type Baseline struct {
	Version int             `yaml:"version"`
	Symbols []BaselineEntry `yaml:"symbols"`
}

// BaselineEntry identifies one accepted dead symbol. Context pins the entry
// to a specific definition so the symbol resurfaces when its code changes.
type BaselineEntry struct {
	QualifiedName string     `yaml:"symbol"`
	Kind          SymbolKind `yaml:"kind"`
	File          string     `yaml:"file"`
	ContextHash   string     `yaml:"context,omitempty"`
}

// NewBaseline builds a baseline from the dead set of an analysis.
func NewBaseline(dead []DeadSymbol) *Baseline {
	b := &Baseline{Version: BaselineVersion}
	for _, d := range dead {
		b.Symbols = append(b.Symbols, BaselineEntry{
			QualifiedName: d.QualifiedName,
			Kind:          d.Kind,
			File:          d.File,
			ContextHash:   d.ContextHash,
		})
	}
	return b
}

// Contains reports whether the baseline accepts the given dead symbol.
// Entries without a context hash match by qualified name alone.
func (b *Baseline) Contains(d DeadSymbol) bool {
	for _, e := range b.Symbols {
		if e.QualifiedName != d.QualifiedName {
			continue
		}
		if e.ContextHash == "" || e.ContextHash == d.ContextHash {
			return true
		}
	}
	return false
}

// Filter returns the dead symbols not accepted by the baseline.
func (b *Baseline) Filter(dead []DeadSymbol) []DeadSymbol {
	var out []DeadSymbol
	for _, d := range dead {
		if !b.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// LoadBaseline reads a baseline file.
func LoadBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Baseline
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid baseline %s: %w", path, err)
	}
	if b.Version == 0 {
		b.Version = BaselineVersion
	}
	return &b, nil
}

// WriteBaseline writes a baseline file.
func WriteBaseline(path string, b *Baseline) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
