package cas

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyProxyCallbackURL(t *testing.T) {
	client := newDummyHTTPSClient(200)
	err := verifyProxyCallback(client, "https://host/cb?keep=1", "PGT-1-a", "PGTIOU-1-b")
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(client.getURLs)) {
		u, errParse := url.Parse(client.getURLs[0])
		assert.NoError(t, errParse)
		assert.Equal(t, "PGT-1-a", u.Query().Get("pgtId"))
		assert.Equal(t, "PGTIOU-1-b", u.Query().Get("pgtIou"))
		assert.Equal(t, "1", u.Query().Get("keep"), "pre-existing query parameters survive")
	}
}

func TestVerifyProxyCallbackOverwritesIdentifiers(t *testing.T) {
	// A caller-supplied pgtId in the callback URL must not survive; the
	// engine's values always win.
	client := newDummyHTTPSClient(200)
	err := verifyProxyCallback(client, "https://host/cb?pgtId=forged", "PGT-1-a", "PGTIOU-1-b")
	assert.NoError(t, err)
	u, _ := url.Parse(client.getURLs[0])
	assert.Equal(t, []string{"PGT-1-a"}, u.Query()["pgtId"])
}

func TestVerifyProxyCallbackSchemes(t *testing.T) {
	for _, bad := range []string{
		"http://host/cb",
		"ftp://host/cb",
		"host/cb",
		"//host/cb",
	} {
		client := newDummyHTTPSClient(200)
		err := verifyProxyCallback(client, bad, "PGT-1-a", "PGTIOU-1-b")
		assertCode(t, err, CodeInternalError)
		assert.Equal(t, 0, len(client.getURLs), "%v must be rejected before any network traffic", bad)
	}
}

func TestVerifyProxyCallbackStatus(t *testing.T) {
	assert.NoError(t, verifyProxyCallback(newDummyHTTPSClient(200), "https://host/cb", "a", "b"))
	// A redirect answer counts as a success; we do not follow it
	assert.NoError(t, verifyProxyCallback(newDummyHTTPSClient(302), "https://host/cb", "a", "b"))

	assertCode(t, verifyProxyCallback(newDummyHTTPSClient(404), "https://host/cb", "a", "b"), CodeInternalError)
	assertCode(t, verifyProxyCallback(newDummyHTTPSClient(500), "https://host/cb", "a", "b"), CodeInternalError)
	assertCode(t, verifyProxyCallback(newDummyHTTPSClient(199), "https://host/cb", "a", "b"), CodeInternalError)

	failing := newDummyHTTPSClient(0)
	failing.err = ErrConnect
	assertCode(t, verifyProxyCallback(failing, "https://host/cb", "a", "b"), CodeInternalError)
}
