package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationResponseV1(t *testing.T) {
	renderer, err := NewRenderer("")
	assert.NoError(t, err)

	body := renderer.ValidationResponseV1(&ValidationOutcome{Username: "joe"})
	assert.Equal(t, "yes\njoe\n", string(body))

	// v1 carries no detail at all on failure, whatever the error
	body = renderer.ValidationResponseV1(&ValidationOutcome{Err: newInvalidTicket("ticket X has expired")})
	assert.Equal(t, "no\n\n", string(body))
	body = renderer.ValidationResponseV1(&ValidationOutcome{Err: newInvalidRequest("ticket parameter is required")})
	assert.Equal(t, "no\n\n", string(body))
}

func TestValidationResponseXMLSuccess(t *testing.T) {
	renderer, _ := NewRenderer("jasig")

	body, err := renderer.ValidationResponseXML(&ValidationOutcome{Username: "joe"})
	assert.NoError(t, err)
	assert.Equal(t,
		`<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">`+
			`<cas:authenticationSuccess><cas:user>joe</cas:user></cas:authenticationSuccess>`+
			`</cas:serviceResponse>`,
		string(body))

	body, err = renderer.ValidationResponseXML(&ValidationOutcome{Username: "joe", PGTIOU: "PGTIOU-1-a"})
	assert.NoError(t, err)
	assert.Contains(t, string(body), `<cas:proxyGrantingTicket>PGTIOU-1-a</cas:proxyGrantingTicket>`)
}

func TestValidationResponseXMLFailure(t *testing.T) {
	renderer, _ := NewRenderer("jasig")

	body, err := renderer.ValidationResponseXML(&ValidationOutcome{Err: newInvalidTicket("ticket ST-1-a has expired")})
	assert.NoError(t, err)
	assert.Equal(t,
		`<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">`+
			`<cas:authenticationFailure code="INVALID_TICKET">ticket ST-1-a has expired</cas:authenticationFailure>`+
			`</cas:serviceResponse>`,
		string(body))

	for _, code := range []ErrorCode{CodeInvalidRequest, CodeInvalidService, CodeInternalError, CodeBadPGT} {
		body, err = renderer.ValidationResponseXML(&ValidationOutcome{Err: &Error{Code: code, Message: "detail"}})
		assert.NoError(t, err)
		assert.Contains(t, string(body), `code="`+string(code)+`"`)
	}
}

func TestValidationResponseXMLAttributeFormats(t *testing.T) {
	outcome := &ValidationOutcome{
		Username: "joe",
		Attributes: map[string]string{
			"givenName": "Joe",
			"email":     "joe@email.test",
		},
	}

	// Keys are emitted in sorted order in every encoding

	jasig, _ := NewRenderer("jasig")
	body, err := jasig.ValidationResponseXML(outcome)
	assert.NoError(t, err)
	assert.Contains(t, string(body),
		`<cas:attributes><cas:email>joe@email.test</cas:email><cas:givenName>Joe</cas:givenName></cas:attributes>`)

	rubycas, _ := NewRenderer("rubycas")
	body, err = rubycas.ValidationResponseXML(outcome)
	assert.NoError(t, err)
	assert.Contains(t, string(body),
		`<cas:email>joe@email.test</cas:email><cas:givenName>Joe</cas:givenName>`)
	assert.NotContains(t, string(body), `<cas:attributes>`)

	namevalue, _ := NewRenderer("namevalue")
	body, err = namevalue.ValidationResponseXML(outcome)
	assert.NoError(t, err)
	assert.Contains(t, string(body),
		`<cas:attribute name="email" value="joe@email.test"></cas:attribute>`+
			`<cas:attribute name="givenName" value="Joe"></cas:attribute>`)
}

func TestValidationResponseXMLProxies(t *testing.T) {
	renderer, _ := NewRenderer("jasig")
	body, err := renderer.ValidationResponseXML(&ValidationOutcome{
		Username: "joe",
		Proxies:  []string{"http://p2.example.com/", "http://p1.example.com/"},
	})
	assert.NoError(t, err)
	// The wire order is the traversal order, closest proxy first
	assert.Contains(t, string(body),
		`<cas:proxies><cas:proxy>http://p2.example.com/</cas:proxy><cas:proxy>http://p1.example.com/</cas:proxy></cas:proxies>`)
}

func TestProxyResponseXML(t *testing.T) {
	renderer, _ := NewRenderer("jasig")

	body, err := renderer.ProxyResponseXML(&Ticket{Ticket: "PT-1-a"}, nil)
	assert.NoError(t, err)
	assert.Equal(t,
		`<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">`+
			`<cas:proxySuccess><cas:proxyTicket>PT-1-a</cas:proxyTicket></cas:proxySuccess>`+
			`</cas:serviceResponse>`,
		string(body))

	body, err = renderer.ProxyResponseXML(nil, newBadPGT("pgt PGT-1-a does not exist"))
	assert.NoError(t, err)
	assert.Equal(t,
		`<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">`+
			`<cas:proxyFailure code="BAD_PGT">pgt PGT-1-a does not exist</cas:proxyFailure>`+
			`</cas:serviceResponse>`,
		string(body))
}

func TestParseAttributeFormat(t *testing.T) {
	format, err := ParseAttributeFormat("")
	assert.NoError(t, err)
	assert.Equal(t, AttributeFormatJasig, format)

	_, err = ParseAttributeFormat("jasig")
	assert.NoError(t, err)
	_, err = ParseAttributeFormat("rubycas")
	assert.NoError(t, err)
	_, err = ParseAttributeFormat("namevalue")
	assert.NoError(t, err)

	_, err = ParseAttributeFormat("bogus")
	assert.Error(t, err)
	_, err = NewRenderer("bogus")
	assert.Error(t, err)
}

func TestNewLogoutRequest(t *testing.T) {
	body := string(NewLogoutRequest("joe", "ST-1-a"))
	assert.Contains(t, body, `<samlp:LogoutRequest`)
	assert.Contains(t, body, `xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"`)
	assert.Contains(t, body, `Version="2.0"`)
	assert.Contains(t, body, `<saml:NameID>joe</saml:NameID>`)
	assert.Contains(t, body, `<samlp:SessionIndex>ST-1-a</samlp:SessionIndex>`)

	// Message IDs are unique per notice
	other := string(NewLogoutRequest("joe", "ST-1-a"))
	assert.NotEqual(t, body, other)
}
