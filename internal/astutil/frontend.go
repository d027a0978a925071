package astutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/conf"
	"github.com/VKCOM/php-parser/pkg/errors"
	"github.com/VKCOM/php-parser/pkg/parser"
	"github.com/VKCOM/php-parser/pkg/version"
	"github.com/VKCOM/php-parser/pkg/visitor/dumper"
	"github.com/VKCOM/php-parser/pkg/visitor/printer"
)

// ParseError is returned when source text cannot be turned into a tree.
type ParseError struct {
	Messages []string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil && len(e.Messages) == 0 {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return "parse error: " + strings.Join(e.Messages, "; ")
}

func (e *ParseError) Unwrap() error { return e.Err }

// RenderError is returned when a tree cannot be printed back into valid source.
type RenderError struct {
	Output string
	Err    error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render error: %v", e.Err) }

func (e *RenderError) Unwrap() error { return e.Err }

// Frontend wraps the PHP parser, printer and dumper for one language version.
type Frontend struct {
	version version.Version
}

// NewFrontend creates a front end for the given parser mode (PREFER_PHP5,
// PREFER_PHP7, PREFER_PHP8 or their ONLY_ variants). Unknown modes select PHP 7.4.
func NewFrontend(parserMode string) *Frontend {
	v := version.Version{Major: 7, Minor: 4}
	switch strings.ToUpper(parserMode) {
	case "ONLY_PHP5", "PREFER_PHP5":
		v = version.Version{Major: 5, Minor: 6}
	case "ONLY_PHP8", "PREFER_PHP8":
		v = version.Version{Major: 8, Minor: 1}
	}
	return &Frontend{version: v}
}

// Version returns the PHP version used for parsing.
func (f *Frontend) Version() string {
	return fmt.Sprintf("%d.%d", f.version.Major, f.version.Minor)
}

// Parse parses a complete PHP file. Recoverable syntax errors are fatal here: a
// tree with error nodes is not a sound base for rewriting.
func (f *Frontend) Parse(src []byte) (root *ast.Root, err error) {
	var parserErrors []*errors.Error
	cfg := conf.Config{
		Version:          &f.version,
		ErrorHandlerFunc: func(e *errors.Error) { parserErrors = append(parserErrors, e) },
	}

	defer func() {
		if r := recover(); r != nil {
			root, err = nil, &ParseError{Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	node, parseErr := parser.Parse(src, cfg)
	if parseErr != nil || len(parserErrors) > 0 {
		pe := &ParseError{Err: parseErr}
		for _, e := range parserErrors {
			if e.Pos != nil {
				pe.Messages = append(pe.Messages, fmt.Sprintf("%s at line %d", e.Msg, e.Pos.StartLine))
			} else {
				pe.Messages = append(pe.Messages, e.Msg)
			}
		}
		return nil, pe
	}
	root, ok := node.(*ast.Root)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("unexpected root node %T", node)}
	}
	return root, nil
}

// ParseFragment parses PHP code that has no open tag, such as an eval payload.
func (f *Frontend) ParseFragment(code string) (*ast.Root, error) {
	return f.Parse([]byte(fragmentTag + code))
}

// RenderFragment prints a tree produced by ParseFragment without its open tag.
func (f *Frontend) RenderFragment(root ast.Vertex) (string, error) {
	out, err := f.Render(root)
	if err != nil {
		return "", err
	}
	out = strings.TrimPrefix(out, fragmentTag)
	return strings.TrimPrefix(out, "<?php"), nil
}

const fragmentTag = "<?php "

// Render prints the tree and checks that the output parses again.
func (f *Frontend) Render(root ast.Vertex) (string, error) {
	out, err := Print(root)
	if err != nil {
		return "", &RenderError{Err: err}
	}
	if _, err := f.Parse([]byte(out)); err != nil {
		return "", &RenderError{Output: out, Err: err}
	}
	return out, nil
}

// Print prints a tree without validating the result.
func Print(n ast.Vertex) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("printer panic: %v", r)
		}
	}()
	var buf bytes.Buffer
	p := printer.NewPrinter(&buf)
	n.Accept(p)
	return buf.String(), nil
}

// Dump renders the structural form of a tree. Two trees with equal dumps are
// considered equal by the optimizer.
func Dump(n ast.Vertex) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("<dump failed: %v>", r)
		}
	}()
	if isNil(n) {
		return ""
	}
	var buf bytes.Buffer
	n.Accept(dumper.NewDumper(&buf))
	return buf.String()
}
