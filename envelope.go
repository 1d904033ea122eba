package soap

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/m29h/xml"
)

const (
	soapEnvNS = "http://schemas.xmlsoap.org/soap/envelope/"
	// soapEnvPrefix is the prefix bound to soapEnvNS on every envelope.
	soapEnvPrefix = "soapenv"
	// MethodPrefix qualifies the operation element in the body. Callers must
	// declare it in their Namespaces.
	MethodPrefix = "team"
)

// Namespace binds an XML prefix to a namespace URI.
type Namespace struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	URI    string `yaml:"uri" json:"uri"`
}

// Namespaces is an ordered set of prefix bindings declared on the envelope root.
type Namespaces []Namespace

// NamespacesFromMap converts a prefix to URI map, ordered by prefix.
func NamespacesFromMap(m map[string]string) Namespaces {
	ns := make(Namespaces, 0, len(m))
	for p, uri := range m {
		ns = append(ns, Namespace{Prefix: p, URI: uri})
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].Prefix < ns[j].Prefix })
	return ns
}

// Validate checks that every prefix is non-empty and declared once.
func (ns Namespaces) Validate() error {
	seen := make(map[string]struct{}, len(ns))
	for _, n := range ns {
		if n.Prefix == "" || strings.ContainsAny(n.Prefix, " \t\r\n:<>\"'=") {
			return fmt.Errorf("%w: namespace prefix %q", ErrInvalidName, n.Prefix)
		}
		if _, dup := seen[n.Prefix]; dup {
			return fmt.Errorf("%w: namespace prefix %q declared twice", ErrInvalidName, n.Prefix)
		}
		seen[n.Prefix] = struct{}{}
	}
	return nil
}

// Lookup returns the URI bound to prefix.
func (ns Namespaces) Lookup(prefix string) (string, bool) {
	for _, n := range ns {
		if n.Prefix == prefix {
			return n.URI, true
		}
	}
	return "", false
}

type buildOptions struct {
	raw bool
}

// BuildOption adjusts envelope construction.
type BuildOption func(*buildOptions)

// WithRawValues splices scalar text and namespace URIs into the envelope
// without escaping. Callers may then pass pre-formed XML fragments as values,
// and are responsible for keeping the result well-formed.
func WithRawValues() BuildOption {
	return func(o *buildOptions) { o.raw = true }
}

// BuildEnvelope renders a SOAP 1.1 envelope whose body holds a single
// team:method element with params serialized as nested child elements in key
// order. A list value renders as repeated elements sharing its key.
func BuildEnvelope(method string, params *Tree, ns Namespaces, opts ...BuildOption) ([]byte, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !validName(method) {
		return nil, fmt.Errorf("%w: method %q", ErrInvalidName, method)
	}

	b := &envelopeWriter{raw: o.raw}
	b.WriteString(`<` + soapEnvPrefix + `:Envelope xmlns:` + soapEnvPrefix + `="` + soapEnvNS + `"`)
	for _, n := range ns {
		if n.Prefix == soapEnvPrefix {
			continue
		}
		b.WriteString(` xmlns:` + n.Prefix + `="`)
		b.text(n.URI)
		b.WriteByte('"')
	}
	b.WriteString(`><` + soapEnvPrefix + `:Header/><` + soapEnvPrefix + `:Body>`)
	b.WriteString(`<` + MethodPrefix + `:` + method + `>`)
	if err := b.tree(params); err != nil {
		return nil, err
	}
	b.WriteString(`</` + MethodPrefix + `:` + method + `>`)
	b.WriteString(`</` + soapEnvPrefix + `:Body></` + soapEnvPrefix + `:Envelope>`)
	return b.Bytes(), nil
}

type envelopeWriter struct {
	bytes.Buffer
	raw bool
}

func (b *envelopeWriter) text(s string) {
	if b.raw {
		b.WriteString(s)
		return
	}
	// Writes to a bytes.Buffer do not fail.
	_ = xml.EscapeText(&b.Buffer, []byte(s))
}

func (b *envelopeWriter) tree(t *Tree) error {
	var err error
	t.Range(func(key string, v Value) bool {
		err = b.element(key, v)
		return err == nil
	})
	return err
}

func (b *envelopeWriter) element(key string, v Value) error {
	if !validName(key) {
		return fmt.Errorf("%w: parameter %q", ErrInvalidName, key)
	}
	if v.Kind() == KindList {
		for _, item := range v.Items() {
			if err := b.element(key, item); err != nil {
				return err
			}
		}
		return nil
	}
	b.WriteString("<" + key + ">")
	switch v.Kind() {
	case KindScalar:
		b.text(v.Text())
	case KindNode:
		if err := b.tree(v.Tree()); err != nil {
			return err
		}
	}
	b.WriteString("</" + key + ">")
	return nil
}

// validName rejects names that would break the element markup. It does not
// enforce the full XML Name production.
func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n<>&\"'=/")
}
