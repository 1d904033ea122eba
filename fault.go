package soap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/m29h/xml"
)

var (
	// ErrSoapFault matches any *Fault via errors.Is.
	ErrSoapFault = errors.New("soap fault")
)

type details struct {
	Content []byte `xml:",innerxml"`
}

// Fault is a SOAP fault found in a response body. SOAP 1.1 and 1.2 element
// names are both accepted; ParseFault folds the 1.2 fields into Code, String
// and Detail. A fault is ordinary response payload for Client.Call and is
// only surfaced on Result.
type Fault struct {
	XMLName xml.Name `xml:"Fault"`

	Code   string  `xml:"faultcode,omitempty"`
	String string  `xml:"faultstring,omitempty"`
	Actor  string  `xml:"faultactor,omitempty"`
	Detail details `xml:"detail"`

	Code12   string  `xml:"Code>Value,omitempty"`
	Reason12 string  `xml:"Reason>Text,omitempty"`
	Role12   string  `xml:"Role,omitempty"`
	Detail12 details `xml:"Detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault: actor=%s, code=%s, string=%s", f.Actor, f.Code, f.String)
}

func (f *Fault) Unwrap() error {
	return ErrSoapFault
}

// DecodeDetail unmarshals the fault detail payload into v.
func (f *Fault) DecodeDetail(v any) error {
	if len(bytes.TrimSpace(f.Detail.Content)) == 0 {
		return nil
	}
	return xml.Unmarshal(f.Detail.Content, v)
}

func (f *Fault) fold() {
	if f.Code == "" {
		f.Code = f.Code12
	}
	if f.String == "" {
		f.String = f.Reason12
	}
	if f.Actor == "" {
		f.Actor = f.Role12
	}
	if len(f.Detail.Content) == 0 {
		f.Detail = f.Detail12
	}
}

// ParseFault scans a response body for a Fault element inside the envelope
// Body. It returns nil and no error when the body carries no fault.
func ParseFault(body []byte) (*Fault, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader
	inBody := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch {
			case el.Name.Local == "Body":
				inBody = true
			case inBody && el.Name.Local == "Fault":
				f := &Fault{}
				if err := dec.DecodeElement(f, &el); err != nil {
					return nil, err
				}
				f.fold()
				return f, nil
			case inBody:
				// first payload element is not a fault
				return nil, nil
			}
		case xml.EndElement:
			if el.Name.Local == "Body" {
				return nil, nil
			}
		}
	}
}

// faultCodeLocal strips a "prefix:" qualifier from a fault code value.
func faultCodeLocal(code string) string {
	if i := strings.LastIndexByte(code, ':'); i >= 0 {
		return code[i+1:]
	}
	return code
}
