package occurrence

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// RequestInfo is the part of an *http.Request recorded with an occurrence.
type RequestInfo struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Path     string            `json:"path"`
	RemoteIP string            `json:"remote_ip"`
	Headers  map[string]string `json:"headers,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
}

var filteredHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
}

func NewRequestInfo(r *http.Request) RequestInfo {
	info := RequestInfo{
		Method:   r.Method,
		URL:      r.URL.String(),
		Path:     r.URL.Path,
		RemoteIP: remoteIP(r),
		Headers:  make(map[string]string, len(r.Header)),
	}

	for k, v := range r.Header {
		if filteredHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}

		info.Headers[k] = strings.Join(v, ", ")
	}

	if vars := mux.Vars(r); len(vars) > 0 {
		info.Vars = vars
	}

	return info
}

func remoteIP(r *http.Request) string {
	ips := strings.Split(r.Header.Get("X-Forwarded-For"), ",")

	// the first entry is the originating client, the rest are proxies.
	ip := strings.TrimSpace(ips[0])
	if ip == "" {
		ip = r.RemoteAddr
	}

	return ip
}
