package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Language identifies a source language by name.
type Language string

const (
	LangPython  Language = "python"
	LangUnknown Language = "unknown"
)

// DetectLanguage maps a file path to its language by extension.
func DetectLanguage(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyw", ".pyi":
		return LangPython
	}
	return LangUnknown
}

// ParseError reports malformed source in a single file. The analysis
// continues without that file; the error surfaces as a warning.
type ParseError struct {
	File    string
	Line    uint32
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// Parser owns a tree-sitter parser configured for Python.
type Parser struct {
	parser *sitter.Parser
}

// New returns a Parser ready to parse Python source.
func New() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.parser.Close()
}

// ParseResult carries a parsed tree together with the source it came from.
type ParseResult struct {
	Tree     *sitter.Tree
	Language Language
	Source   []byte
	Path     string
}

// ParseFile reads and parses the file at path.
func (p *Parser) ParseFile(path string) (*ParseResult, error) {
	if DetectLanguage(path) == LangUnknown {
		return nil, fmt.Errorf("unsupported language for file: %s", path)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Parse(source, path)
}

// Parse parses Python source. Malformed source yields a *ParseError carrying
// the position of the first syntax error.
func (p *Parser) Parse(source []byte, path string) (*ParseResult, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		line, msg := firstSyntaxError(root, source)
		return nil, &ParseError{File: path, Line: line, Message: msg}
	}

	return &ParseResult{
		Tree:     tree,
		Language: LangPython,
		Source:   source,
		Path:     path,
	}, nil
}

// firstSyntaxError describes the first ERROR or missing node in the tree.
func firstSyntaxError(root *sitter.Node, source []byte) (uint32, string) {
	bad := firstBadNode(root)
	if bad == nil {
		return 1, "syntax error"
	}

	msg := "syntax error"
	if near := strings.TrimSpace(GetNodeText(bad, source)); near != "" {
		if len(near) > 40 {
			near = near[:40] + "..."
		}
		msg = fmt.Sprintf("syntax error near %q", near)
	}
	return bad.StartPoint().Row + 1, msg
}

func firstBadNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstBadNode(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// NodeVisitor is called for every node Walk reaches. Returning false skips
// the node's children.
type NodeVisitor func(node *sitter.Node, source []byte) bool

// TypedNodeVisitor is NodeVisitor with the node type already fetched, so
// visitors that switch on type avoid a CGO call per check.
type TypedNodeVisitor func(node *sitter.Node, nodeType string, source []byte) bool

// Walk does a preorder traversal of the subtree rooted at node.
func Walk(node *sitter.Node, source []byte, visitor NodeVisitor) {
	if node == nil || !visitor(node, source) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		Walk(node.Child(i), source, visitor)
	}
}

// WalkTyped is Walk with node types handed to the visitor.
func WalkTyped(node *sitter.Node, source []byte, visitor TypedNodeVisitor) {
	Walk(node, source, func(n *sitter.Node, src []byte) bool {
		return visitor(n, n.Type(), src)
	})
}

// FindNodes collects every node in the subtree matching the predicate.
func FindNodes(root *sitter.Node, source []byte, predicate func(*sitter.Node) bool) []*sitter.Node {
	var hits []*sitter.Node
	Walk(root, source, func(n *sitter.Node, _ []byte) bool {
		if predicate(n) {
			hits = append(hits, n)
		}
		return true
	})
	return hits
}

// FindNodesByType collects every node of the given type.
func FindNodesByType(root *sitter.Node, source []byte, nodeType string) []*sitter.Node {
	var hits []*sitter.Node
	WalkTyped(root, source, func(n *sitter.Node, t string, _ []byte) bool {
		if t == nodeType {
			hits = append(hits, n)
		}
		return true
	})
	return hits
}

// GetNodeText returns the source slice a node spans, or "" when the node is
// nil or its offsets fall outside the source.
func GetNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if start > end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}
