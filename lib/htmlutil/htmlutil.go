package htmlutil

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("codefolio.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		buffer.WriteString(node.Data)
		return
	case html.ElementNode:
		// script and style contents are not visible text
		if node.Data == "script" || node.Data == "style" || node.Data == "noscript" {
			return
		}
	}
	child := node.FirstChild
	for child != nil {
		// element boundaries would otherwise glue adjacent words together
		if child.Type == html.ElementNode {
			buffer.WriteByte(' ')
			getTextRecursive(child, buffer)
			buffer.WriteByte(' ')
		} else {
			getTextRecursive(child, buffer)
		}
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText removes non-printable characters and collapses whitespace runs.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SelectionText is the cleaned visible text of every node in the selection.
func SelectionText(sel *goquery.Selection) string {
	var out strings.Builder
	for i, n := range sel.Nodes {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(GetText(n))
	}
	return CleanText(out.String())
}

// ParseDocument parses an html body into a goquery document.
func ParseDocument(ctx context.Context, body []byte) (*goquery.Document, error) {
	_, span := tracer.Start(ctx, "ParseDocument")
	defer span.End()
	span.SetAttributes(attribute.Int("body_bytes", len(body)))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}
	return doc, nil
}
