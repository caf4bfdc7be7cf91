package cas

import (
	"encoding/xml"
	"sort"
	"time"

	"github.com/google/uuid"
)

const casXmlns = "http://www.yale.edu/tp/cas"

// AttributeFormat selects how the attribute block of a v3 validation
// response is encoded. There is no silent default: an unrecognized name in
// the config is a fatal configuration error.
type AttributeFormat int

const (
	// AttributeFormatJasig groups one tag per attribute under a
	// <cas:attributes> wrapper.
	AttributeFormatJasig AttributeFormat = iota
	// AttributeFormatRubyCAS emits one bare tag per attribute, no wrapper.
	AttributeFormatRubyCAS
	// AttributeFormatNameValue emits <cas:attribute name="..." value="..."/> pairs.
	AttributeFormatNameValue
)

func ParseAttributeFormat(name string) (AttributeFormat, error) {
	switch name {
	case "jasig", "":
		return AttributeFormatJasig, nil
	case "rubycas":
		return AttributeFormatRubyCAS, nil
	case "namevalue":
		return AttributeFormatNameValue, nil
	}
	return 0, NewError(ErrAttributeFormat, name)
}

// ValidationOutcome is the shared result structure every wire format is
// rendered from. Exactly one of Username/Err carries the outcome.
type ValidationOutcome struct {
	Username   string
	Err        *Error
	PGTIOU     string
	Proxies    []string
	Attributes map[string]string
}

type Renderer struct {
	Format AttributeFormat
}

func NewRenderer(formatName string) (*Renderer, error) {
	format, err := ParseAttributeFormat(formatName)
	if err != nil {
		return nil, err
	}
	return &Renderer{Format: format}, nil
}

// ValidationResponseV1 renders the protocol v1 plain-text body. No field
// other than the username is ever emitted in this format.
func (x *Renderer) ValidationResponseV1(outcome *ValidationOutcome) []byte {
	if outcome.Err == nil {
		return []byte("yes\n" + outcome.Username + "\n")
	}
	return []byte("no\n\n")
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type casServiceResponse struct {
	XMLName xml.Name `xml:"cas:serviceResponse"`
	Xmlns   string   `xml:"xmlns:cas,attr"`
	Success *casAuthenticationSuccess
	Failure *casAuthenticationFailure
}

type casAuthenticationSuccess struct {
	XMLName    xml.Name `xml:"cas:authenticationSuccess"`
	User       string   `xml:"cas:user"`
	Attributes *casAttributeBlock
	PGTIOU     string `xml:"cas:proxyGrantingTicket,omitempty"`
	Proxies    *casProxies
}

type casAuthenticationFailure struct {
	XMLName xml.Name `xml:"cas:authenticationFailure"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

type casProxies struct {
	XMLName xml.Name `xml:"cas:proxies"`
	Proxies []string `xml:"cas:proxy"`
}

// casAttributeBlock marshals the attribute map in the selected encoding.
// Attribute order on the wire is the sorted key order, so responses are
// deterministic.
type casAttributeBlock struct {
	format     AttributeFormat
	attributes map[string]string
}

func (a *casAttributeBlock) sortedKeys() []string {
	keys := make([]string, 0, len(a.attributes))
	for k := range a.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *casAttributeBlock) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	switch a.format {
	case AttributeFormatJasig:
		wrapper := xml.StartElement{Name: xml.Name{Local: "cas:attributes"}}
		if err := e.EncodeToken(wrapper); err != nil {
			return err
		}
		for _, k := range a.sortedKeys() {
			if err := e.EncodeElement(a.attributes[k], xml.StartElement{Name: xml.Name{Local: "cas:" + k}}); err != nil {
				return err
			}
		}
		return e.EncodeToken(wrapper.End())
	case AttributeFormatRubyCAS:
		for _, k := range a.sortedKeys() {
			if err := e.EncodeElement(a.attributes[k], xml.StartElement{Name: xml.Name{Local: "cas:" + k}}); err != nil {
				return err
			}
		}
		return nil
	case AttributeFormatNameValue:
		for _, k := range a.sortedKeys() {
			elem := xml.StartElement{
				Name: xml.Name{Local: "cas:attribute"},
				Attr: []xml.Attr{
					{Name: xml.Name{Local: "name"}, Value: k},
					{Name: xml.Name{Local: "value"}, Value: a.attributes[k]},
				},
			}
			if err := e.EncodeToken(elem); err != nil {
				return err
			}
			if err := e.EncodeToken(elem.End()); err != nil {
				return err
			}
		}
		return nil
	}
	return NewError(ErrAttributeFormat, "unknown attribute format value")
}

// ValidationResponseXML renders the protocol v2/v3 serviceResponse body.
// The error code and message of a failure are emitted verbatim; the
// renderer performs no interpretation of its own.
func (x *Renderer) ValidationResponseXML(outcome *ValidationOutcome) ([]byte, error) {
	resp := casServiceResponse{Xmlns: casXmlns}
	if outcome.Err != nil {
		resp.Failure = &casAuthenticationFailure{
			Code:    string(outcome.Err.Code),
			Message: outcome.Err.Message,
		}
	} else {
		resp.Success = &casAuthenticationSuccess{
			User:   outcome.Username,
			PGTIOU: outcome.PGTIOU,
		}
		if len(outcome.Attributes) != 0 {
			resp.Success.Attributes = &casAttributeBlock{format: x.Format, attributes: outcome.Attributes}
		}
		if len(outcome.Proxies) != 0 {
			resp.Success.Proxies = &casProxies{Proxies: outcome.Proxies}
		}
	}
	return xml.Marshal(resp)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type casProxyResponse struct {
	XMLName xml.Name `xml:"cas:serviceResponse"`
	Xmlns   string   `xml:"xmlns:cas,attr"`
	Success *casProxySuccess
	Failure *casProxyFailure
}

type casProxySuccess struct {
	XMLName     xml.Name `xml:"cas:proxySuccess"`
	ProxyTicket string   `xml:"cas:proxyTicket"`
}

type casProxyFailure struct {
	XMLName xml.Name `xml:"cas:proxyFailure"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

// ProxyResponseXML renders the /proxy endpoint body: the new PT on success,
// or the failure code verbatim.
func (x *Renderer) ProxyResponseXML(pt *Ticket, failure *Error) ([]byte, error) {
	resp := casProxyResponse{Xmlns: casXmlns}
	if failure != nil {
		resp.Failure = &casProxyFailure{Code: string(failure.Code), Message: failure.Message}
	} else {
		resp.Success = &casProxySuccess{ProxyTicket: pt.Ticket}
	}
	return xml.Marshal(resp)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type samlLogoutRequest struct {
	XMLName      xml.Name `xml:"samlp:LogoutRequest"`
	XmlnsSamlp   string   `xml:"xmlns:samlp,attr"`
	XmlnsSaml    string   `xml:"xmlns:saml,attr"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	NameID       string   `xml:"saml:NameID"`
	SessionIndex string   `xml:"samlp:SessionIndex"`
}

// NewLogoutRequest builds the SAML-style single-logout push message. The
// session index is the ticket string the target service originally
// validated, which is how it finds the session to terminate.
func NewLogoutRequest(userId, ticket string) []byte {
	req := samlLogoutRequest{
		XmlnsSamlp:   "urn:oasis:names:tc:SAML:2.0:protocol",
		XmlnsSaml:    "urn:oasis:names:tc:SAML:2.0:assertion",
		ID:           uuid.New().String(),
		Version:      "2.0",
		IssueInstant: time.Now().UTC().Format(time.RFC3339),
		NameID:       userId,
		SessionIndex: ticket,
	}
	body, _ := xml.Marshal(req)
	return body
}
