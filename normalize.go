package soap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	// AttributesKey holds an element's attributes in a normalized tree.
	AttributesKey = "@attributes"
	// TextKey holds the text of an element that also carries attributes.
	TextKey = "#text"
)

var (
	nsDeclPattern = regexp.MustCompile(`xmlns[^=]*="[^"]*"`)
	prefixPattern = regexp.MustCompile(`^(?:[A-Za-z_][\w.-]*:)+`)

	errNoRoot = errors.New("document has no root element")
)

// StripNamespaceDeclarations removes every xmlns attribute from raw by text
// substitution. Prefixes on element names are left in place.
func StripNamespaceDeclarations(raw []byte) []byte {
	return nsDeclPattern.ReplaceAll(raw, nil)
}

// Normalize converts a SOAP response into a namespace-free tree. The root
// element appears under its own name. Repeated sibling elements become a list
// in document order, empty elements become empty nodes. Malformed input
// yields a *ParseError.
func Normalize(raw []byte) (*Tree, error) {
	doc, err := readDocument(StripNamespaceDeclarations(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	root := doc.Root()
	t := NewTree().Set(root.FullTag(), elementValue(root))
	return StripPrefixes(t), nil
}

// StripPrefixes returns a copy of t with any leading "prefix:" removed from
// every key at every depth. Keys that collide after stripping are merged into
// a list. Applying it twice gives the same result as once.
func StripPrefixes(t *Tree) *Tree {
	out := NewTree()
	t.Range(func(key string, v Value) bool {
		key = prefixPattern.ReplaceAllString(key, "")
		v = stripValue(v)
		if _, exists := out.Get(key); exists && v.Kind() == KindList {
			for _, item := range v.Items() {
				out.Add(key, item)
			}
			return true
		}
		out.Add(key, v)
		return true
	})
	return out
}

func stripValue(v Value) Value {
	switch v.Kind() {
	case KindNode:
		return Node(StripPrefixes(v.Tree()))
	case KindList:
		items := make([]Value, len(v.Items()))
		for i, item := range v.Items() {
			items[i] = stripValue(item)
		}
		return List(items...)
	}
	return v
}

func elementValue(el *etree.Element) Value {
	children := el.ChildElements()
	attrs := elementAttrs(el)
	if len(children) == 0 && attrs == nil {
		if text := el.Text(); text != "" {
			return Scalar(text)
		}
		return Node(NewTree())
	}

	t := NewTree()
	if attrs != nil {
		t.Set(AttributesKey, Node(attrs))
	}
	if len(children) == 0 {
		if text := el.Text(); text != "" {
			t.SetText(TextKey, text)
		}
		return Node(t)
	}
	for _, c := range children {
		t.Add(c.FullTag(), elementValue(c))
	}
	return Node(t)
}

func elementAttrs(el *etree.Element) *Tree {
	var t *Tree
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		if t == nil {
			t = NewTree()
		}
		t.SetText(a.FullKey(), a.Value)
	}
	return t
}

// FormatXML re-indents an XML document with two spaces per level. When raw is
// not well-formed it is returned unchanged together with a *ParseError.
func FormatXML(raw []byte) ([]byte, error) {
	doc, err := readDocument(raw)
	if err != nil {
		return raw, &ParseError{Err: err}
	}
	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return raw, &ParseError{Err: err}
	}
	return out, nil
}

func readDocument(raw []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(bytes.TrimSpace(raw)); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, errNoRoot
	}
	return doc, nil
}

// charsetReader decodes documents declaring a non UTF-8 encoding, such as the
// ISO-8859-1 some services still emit.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
