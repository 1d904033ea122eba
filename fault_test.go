package soap

import (
	"errors"
	"testing"

	"github.com/m29h/xml"
)

type faultDetailExampleField struct {
	XMLName xml.Name `xml:"DetailField"`
	Attr1   string   `xml:"attr1,attr"`
	Attr2   int32    `xml:"attr2,attr"`
	Value   string   `xml:",chardata"`
}

type faultDetailExample struct {
	XMLName xml.Name                `xml:"DetailExample"`
	Attr1   int32                   `xml:"attr1,attr"`
	Field1  faultDetailExampleField `xml:"DetailField"`
}

type faultParseTest struct {
	in          string
	code        string
	str         string
	actor       string
	detail      *faultDetailExample
	noFault     bool
	faultErrStr string
	err         bool
}

var faultParseTests = []faultParseTest{
	{
		in: `<?xml version="1.0" encoding="UTF-8"?>
		<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
			<soap:Body>
				<soap:Fault>
					<faultcode>soap:Server</faultcode>
					<faultstring>FaultStringValue</faultstring>
					<faultactor>FaultActorValue</faultactor>
				</soap:Fault>
			</soap:Body>
		</soap:Envelope>`,
		code:        "soap:Server",
		str:         "FaultStringValue",
		actor:       "FaultActorValue",
		faultErrStr: "soap fault: actor=FaultActorValue, code=soap:Server, string=FaultStringValue",
	},
	{
		in: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
			<soap:Header/>
			<soap:Body>
				<soap:Fault>
					<faultcode>soap:Client</faultcode>
					<faultstring>bad input</faultstring>
					<detail>
						<DetailExample attr1="10">
							<DetailField attr1="test" attr2="11">This is a test string</DetailField>
						</DetailExample>
					</detail>
				</soap:Fault>
			</soap:Body>
		</soap:Envelope>`,
		code: "soap:Client",
		str:  "bad input",
		detail: &faultDetailExample{
			XMLName: xml.Name{Local: "DetailExample"},
			Attr1:   10,
			Field1: faultDetailExampleField{
				XMLName: xml.Name{Local: "DetailField"},
				Attr1:   "test",
				Attr2:   11,
				Value:   "This is a test string",
			},
		},
		faultErrStr: "soap fault: actor=, code=soap:Client, string=bad input",
	},
	{
		in: `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
			<env:Body>
				<env:Fault>
					<env:Code><env:Value>env:Sender</env:Value></env:Code>
					<env:Reason><env:Text xml:lang="en">rejected</env:Text></env:Reason>
				</env:Fault>
			</env:Body>
		</env:Envelope>`,
		code:        "env:Sender",
		str:         "rejected",
		faultErrStr: "soap fault: actor=, code=env:Sender, string=rejected",
	},
	{
		in: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
			<soap:Body><m:Resp xmlns:m="urn:m"><Fault>not a fault</Fault></m:Resp></soap:Body>
		</soap:Envelope>`,
		noFault: true,
	},
	{
		in:      `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body/></soap:Envelope>`,
		noFault: true,
	},
	{
		in: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
			<soap:Body>
				<soap:Fault>
					<faultcode attr="x>soap:Server</faultcode>
				</soap:Fault>
			</soap:Body>
		</soap:Envelope>`,
		err: true,
	},
}

func TestParseFault(t *testing.T) {
	for i, tt := range faultParseTests {
		f, err := ParseFault([]byte(tt.in))
		if (err != nil) != tt.err {
			t.Errorf("#%d: err %v, want error %v", i, err, tt.err)
			continue
		} else if err != nil {
			continue
		}
		if tt.noFault {
			if f != nil {
				t.Errorf("#%d: unexpected fault %v", i, f)
			}
			continue
		}
		if f == nil {
			t.Errorf("#%d: fault not detected", i)
			continue
		}
		if f.Code != tt.code || f.String != tt.str || f.Actor != tt.actor {
			t.Errorf("#%d: mismatch\nhave: %q %q %q\nwant: %q %q %q", i, f.Code, f.String, f.Actor, tt.code, tt.str, tt.actor)
		}
		if f.Error() != tt.faultErrStr {
			t.Errorf("#%d: mismatch\nhave %q\nwant %q", i, f.Error(), tt.faultErrStr)
		}
		if !errors.Is(f, ErrSoapFault) {
			t.Errorf("#%d: fault does not match ErrSoapFault", i)
		}
		if tt.detail != nil {
			var got faultDetailExample
			if err := f.DecodeDetail(&got); err != nil {
				t.Errorf("#%d: decode detail: %v", i, err)
				continue
			}
			if got != *tt.detail {
				t.Errorf("#%d: detail mismatch\nhave: %#v\nwant: %#v", i, got, *tt.detail)
			}
		}
	}
}

func TestFaultCodeLocal(t *testing.T) {
	tests := []struct{ in, out string }{
		{"soap:Server", "Server"},
		{"Client", "Client"},
		{"", ""},
	}
	for i, tt := range tests {
		if got := faultCodeLocal(tt.in); got != tt.out {
			t.Errorf("#%d: %q, want %q", i, got, tt.out)
		}
	}
}
