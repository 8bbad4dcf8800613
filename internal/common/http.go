package common

import (
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP reports the socket peer of r. Forwarded headers are never read here: any
// client can forge them. Deployments behind a trusted proxy mount chi's RealIP, which
// rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap().String()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap().String()
	}
	return remote
}
