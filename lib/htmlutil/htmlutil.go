package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

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

var innerWhitespace = regexp.MustCompile(`[ \t]+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || c == '\n' {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText collapses runs of spaces/tabs and strips non-printable
// characters, it keeps newlines intact since line boundaries are
// meaningful to text scanning.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " \t\n")
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "div": true, "footer": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"li": true, "ol": true, "p": true, "section": true, "table": true,
	"td": true, "tr": true, "ul": true,
}

// RenderText approximates the visible text of a document, inserting line
// breaks at block element boundaries. It is not a layout engine, but it
// keeps one logical line of page text on one line of output, which is
// what line-oriented scanning needs.
func RenderText(node *html.Node) string {
	var buffer bytes.Buffer
	renderTextRecursive(node, &buffer)
	return buffer.String()
}

func renderTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		renderTextRecursive(child, buffer)
		child = child.NextSibling
	}
	if node.Type == html.ElementNode && blockTags[node.Data] {
		buffer.WriteString("\n")
	}
}
