package frontproxy

import (
	"net/http"
	"net/http/httputil"
	"strconv"
)

// hopByHopHeaders are stripped before forwarding.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

// newBackendProxy builds an httputil.ReverseProxy targeting 127.0.0.1:port.
// ReverseProxy already handles chunked transfer and connection reuse
// correctly, so request forwarding is built on it rather than hand-rolled
// TCP head/body relaying.
func newBackendProxy(port int, realIP string, onError func(err error)) *httputil.ReverseProxy {
	target := "127.0.0.1:" + strconv.Itoa(port)

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = target
			// Host header is preserved: do not overwrite req.Host.
			stripHopByHop(req.Header)
			appendForwardedFor(req.Header, realIP)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			onError(err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func appendForwardedFor(h http.Header, realIP string) {
	if realIP == "" {
		return
	}
	existing := h.Get("X-Forwarded-For")
	if existing == "" {
		h.Set("X-Forwarded-For", realIP)
		return
	}
	h.Set("X-Forwarded-For", existing+", "+realIP)
}
