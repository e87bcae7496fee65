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
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("skyquery.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// non-printable runes and exotic spaces (&nbsp; and friends) all become
// plain spaces so collapsing below can deal with them uniformly
func flattenRunes(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) && !unicode.IsSpace(c) {
			newStr.WriteRune(c)
		} else {
			newStr.WriteRune(' ')
		}
	}
	return newStr.String()
}

// CleanText strips non-printable runes and collapses runs of whitespace,
// which form pages love to pad option labels with.
func CleanText(s string) string {
	s = flattenRunes(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " ")
}

type Option struct {
	Label string
	Value string
}

// GetOptions pulls the (label, value) pairs out of a selection of
// <option> elements. Options without a value attribute fall back to
// their label.
func GetOptions(ctx context.Context, sel *goquery.Selection) []Option {
	ctx, span := tracer.Start(ctx, "GetOptions")
	defer span.End()

	options := []Option{}
	for _, n := range sel.Nodes {
		value := ""
		for _, a := range n.Attr {
			if a.Key == "value" {
				value = a.Val
				break
			}
		}

		label := CleanText(GetText(n))
		if value == "" {
			value = label
		}

		options = append(options, Option{
			Label: label,
			Value: value,
		})
		span.AddEvent("option", trace.WithAttributes(
			attribute.String("label", label),
			attribute.String("value", value),
		))
	}

	return options
}
