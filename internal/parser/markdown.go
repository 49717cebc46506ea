package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is a fenced code block found in a model reply.
type CodeBlock struct {
	// Hint is the paragraph immediately preceding the block, if any.
	Hint string
	// Lang is the info string of the fence (e.g., "json", "go").
	Lang string
	// Content is the raw text inside the fence.
	Content string
}

func parse(source []byte) ast.Node {
	return goldmark.DefaultParser().Parse(text.NewReader(source))
}

func blockFrom(node *ast.FencedCodeBlock, source []byte) CodeBlock {
	var block CodeBlock
	if node.Info != nil {
		block.Lang = strings.TrimSpace(string(node.Info.Text(source)))
	}

	var content bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		content.Write(line.Value(source))
	}
	block.Content = content.String()

	if prev := node.PreviousSibling(); prev != nil {
		if p, ok := prev.(*ast.Paragraph); ok {
			block.Hint = strings.TrimSpace(string(p.Text(source)))
		}
	}
	return block
}

// ExtractCodeBlocks returns every fenced code block in source, in document
// order.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	var blocks []CodeBlock
	root := parse(source)

	err := ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		blocks = append(blocks, blockFrom(fenced, source))
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// Unfence returns the body of s when s, ignoring surrounding blank space,
// is exactly one fenced code block. Any other input is returned unchanged.
// An unterminated fence is treated as running to the end of s.
func Unfence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return s
	}

	source := []byte(trimmed)
	root := parse(source)
	if root.ChildCount() != 1 {
		return s
	}
	fenced, ok := root.FirstChild().(*ast.FencedCodeBlock)
	if !ok {
		return s
	}
	return blockFrom(fenced, source).Content
}
