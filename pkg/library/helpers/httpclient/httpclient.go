package httpclient

import (
	"net/http"
	"time"
)

const userAgent = "humblevault/1.0"

// HTTPClient is shared by the outbound clients. Tests swap it for an
// httptest server client.
var HTTPClient = &http.Client{
	Timeout:   30 * time.Second,
	Transport: &userAgentTransport{base: http.DefaultTransport},
}

// TransferClient is used for file downloads; it has no overall timeout since
// transfers are bounded by their context.
var TransferClient = &http.Client{
	Transport: &userAgentTransport{base: http.DefaultTransport},
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}
