// Package document extracts text content from HTML documents by XPath.
package document

import (
	"bytes"
	"fmt"

	"github.com/antchfx/htmlquery"
)

// ExtractByXPath returns the text content of every element matching expr.
func ExtractByXPath(body []byte, expr string) ([]string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, htmlquery.InnerText(node))
	}
	return out, nil
}
