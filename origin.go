package offlineproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scoutscode/offlineproxy/bucket"
)

// From net/http/httputil/reverseproxy.go
// removeConnectionHeaders removes hop-by-hop headers listed in the "Connection" header of h.
// See RFC 7230, section 6.1
func removeConnectionHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
}

// From net/http/httputil/reverseproxy.go
// Hop-by-hop headers. These are removed when sent to the backend.
// As of RFC 7230, hop-by-hop headers are required to appear in the
// Connection header field. These are the headers defined by the
// obsoleted RFC 2616 (section 13.5.1) and are used for backward
// compatibility.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection", // non-standard but still sent by libcurl and rejected by e.g. google
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",      // canonicalized version of "TE"
	"Trailer", // not Trailers per URL above; https://www.rfc-editor.org/errata_search.php?eid=4522
	"Transfer-Encoding",
	"Upgrade",
}

//fetchFromOrigin forwards a request to its origin server and returns the response.
// Requests with an absolute URL (third-party assets, cross-origin images) keep their
// own destination, everything else is forwarded using the forward config.
func fetchFromOrigin(forwardContext context.Context, transport http.RoundTripper, forwardConfig *ForwardConfig, req *http.Request) (*http.Response, error) {

	//Clone the request
	outreq := req.Clone(forwardContext)
	if req.ContentLength == 0 {
		outreq.Body = nil // Issue 16036: nil Body for http.Transport retries
	}
	if outreq.Header == nil {
		outreq.Header = make(http.Header) // Issue 33142: historical behavior was to always allocate
	}

	outreq.Close = false

	removeConnectionHeaders(outreq.Header)

	// Remove hop-by-hop headers to the backend. Especially
	// important is "Connection" because we want a persistent
	// connection, regardless of what the client sent to us.
	for _, h := range hopHeaders {
		hv := outreq.Header.Get(h)
		if hv == "" {
			continue
		}
		if h == "Te" && hv == "trailers" {
			// Issue 21096: tell backend applications that
			// care about trailer support that we support
			// trailers.
			continue
		}
		outreq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		// If we aren't the first proxy retain prior
		// X-Forwarded-For information as a comma+space
		// separated list and fold multiple headers into one.
		if prior, ok := outreq.Header["X-Forwarded-For"]; ok {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		outreq.Header.Set("X-Forwarded-For", clientIP)
	}

	//Requests in the absolute-form already carry their destination
	if outreq.URL.Host == "" || outreq.URL.Scheme == "" {
		if forwardConfig != nil {
			if forwardConfig.TLS {
				outreq.URL.Scheme = "https"
			} else {
				outreq.URL.Scheme = "http"
			}
			outreq.URL.Host = forwardConfig.Host
		} else {
			outreq.URL.Scheme = "http"
			outreq.URL.Host = req.Host
		}
	}

	//Forward request to origin server
	response, err := transport.RoundTrip(outreq)
	if err != nil {
		return nil, err
	}

	removeConnectionHeaders(response.Header)

	for _, h := range hopHeaders {
		response.Header.Del(h)
	}

	return response, nil
}

//writeHTTPResponse writes a response to the response writer
func writeHTTPResponse(rw http.ResponseWriter, response *http.Response) error {

	//Set all response headers in the response writer
	for key, values := range response.Header {
		rw.Header()[key] = values
	}

	rw.WriteHeader(response.StatusCode)

	//Close the body before returning
	defer response.Body.Close()
	_, err := io.Copy(rw, response.Body)

	return err
}

//writeEntry writes a cached entry to the response writer
func writeEntry(rw http.ResponseWriter, entry *bucket.Entry) error {
	for key, values := range entry.Header {
		rw.Header()[key] = values
	}

	rw.WriteHeader(entry.Status)

	_, err := rw.Write(entry.Body)

	return err
}

//entryFromResponse drains a response body into a cache entry.
// The response body is closed, callers serve the returned entry instead.
func entryFromResponse(response *http.Response) (*bucket.Entry, error) {
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	entry := &bucket.Entry{
		Status:   response.StatusCode,
		Header:   response.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}

	//The stored length is authoritative, a stale Content-Length would corrupt replays
	entry.Header.Del("Content-Length")

	return entry, nil
}

//cacheKey builds the request identity an entry is stored under.
// The query is re-encoded so its key order is stable.
func cacheKey(req *http.Request) string {
	rawQuery := req.URL.RawQuery
	if rawQuery != "" {
		if queryValues, err := url.ParseQuery(rawQuery); err == nil {
			rawQuery = queryValues.Encode()
		}
	}

	key := req.Method + " " + requestHost(req) + req.URL.Path
	if rawQuery != "" {
		key += "?" + rawQuery
	}

	return key
}
