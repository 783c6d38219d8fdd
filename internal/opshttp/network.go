package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/archive-ingest/internal/log"
)

// requireNonPublicNetwork refuses requests whose peer is not loopback,
// private or link-local. The admin port must never be reachable from the
// internet even if a security group is misconfigured.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		addr, err := netip.ParseAddr(host)
		if err != nil || !nonPublic(addr.Unmap()) {
			L.Warn(r.Context(), "ops request from public network refused",
				"remote_addr", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(a netip.Addr) bool {
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}
