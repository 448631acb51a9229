package fetch

import (
	"net/http"
	"net/http/httputil"

	"github.com/kiln-build/kiln/internal/logging"
)

// LoggingTransport is an http.RoundTripper that dumps requests and response
// headers to the debug log. Wire it in with Fetcher.WithClient when chasing
// mirror or redirect problems.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// NewLoggingTransport creates a new LoggingTransport. If transport is nil,
// http.DefaultTransport is used. If logger is nil, the dumps are dropped.
func NewLoggingTransport(transport http.RoundTripper, logger *logging.Logger) *LoggingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &LoggingTransport{
		Transport: transport,
		Logger:    logger,
	}
}

// RoundTrip executes a single HTTP transaction, logging the request and the
// response headers. Bodies are left alone: responses here are whole source
// tarballs.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqDump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		t.Logger.Debugf("error dumping request: %v", err)
	} else {
		t.Logger.Debugf("request:\n%s", reqDump)
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("error making request: %v", err)
		return resp, err // Return the response and error, even if the response is nil.
	}

	respDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		t.Logger.Debugf("error dumping response: %v", err)
	} else {
		t.Logger.Debugf("response:\n%s", respDump)
	}

	return resp, nil
}
