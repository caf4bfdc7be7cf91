package cas

import (
	"net/http"
	"net/url"
	"time"
)

const DefaultCallbackTimeout = 10 * time.Second

// HTTPSClient performs the out-of-band proxy callback. Implementations must
// verify TLS certificates and must not follow redirects when reporting the
// status code.
type HTTPSClient interface {
	Get(url string) (statusCode int, err error)
	PostForm(url string, data url.Values) (statusCode int, err error)
}

type defaultHTTPSClient struct {
	client *http.Client
}

func NewHTTPSClient(timeout time.Duration) HTTPSClient {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	return &defaultHTTPSClient{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// A 3xx from the callback endpoint counts as its answer.
				return http.ErrUseLastResponse
			},
		},
	}
}

func (x *defaultHTTPSClient) Get(url string) (int, error) {
	resp, err := x.client.Get(url)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (x *defaultHTTPSClient) PostForm(url string, data url.Values) (int, error) {
	resp, err := x.client.PostForm(url, data)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

/*
verifyProxyCallback contacts the pgtUrl callback before a PGT is persisted.

The scheme check is the SSRF/downgrade defense: a PGT must never travel over
an unencrypted or unauthenticated channel, so anything but https fails
before a single byte leaves this process. The TLS handshake of the GET
itself then authenticates the callback host.
*/
func verifyProxyCallback(client HTTPSClient, callbackURL, pgtId, pgtIou string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return newInternalError("callback URL is not parseable: %v", err)
	}
	if u.Scheme != "https" {
		return newInternalError("callback scheme is not HTTPS")
	}
	q := u.Query()
	q.Set("pgtId", pgtId)
	q.Set("pgtIou", pgtIou)
	u.RawQuery = q.Encode()

	status, err := client.Get(u.String())
	if err != nil {
		return newInternalError("callback request failed: %v", err)
	}
	if status < 200 || status >= 400 {
		return newInternalError("callback returned status %v", status)
	}
	return nil
}

// dummyHTTPSClient records the URLs it was asked to fetch, and answers with
// a canned status. Used by tests and bootstrap paths.
type dummyHTTPSClient struct {
	status   int
	err      error
	getURLs  []string
	postURLs []string
	posts    []url.Values
}

func newDummyHTTPSClient(status int) *dummyHTTPSClient {
	return &dummyHTTPSClient{status: status}
}

func (x *dummyHTTPSClient) Get(url string) (int, error) {
	x.getURLs = append(x.getURLs, url)
	if x.err != nil {
		return 0, x.err
	}
	return x.status, nil
}

func (x *dummyHTTPSClient) PostForm(url string, data url.Values) (int, error) {
	x.postURLs = append(x.postURLs, url)
	x.posts = append(x.posts, data)
	if x.err != nil {
		return 0, x.err
	}
	return x.status, nil
}
