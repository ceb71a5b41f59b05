package netutil

import (
	"fmt"
	"log/slog"
	"net"
)

// SelectBindAddr returns the first of (preferred, candidates...) that can be
// listened on. With autoFallback off only the preferred address is tried, so
// a stale process holding the port fails fast instead of moving the agent to
// a port the browser extension is not configured for.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	tried := make([]string, 0, len(candidates)+1)

	if preferred != "" {
		tried = append(tried, preferred)
		if addrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
		slog.Warn("preferred bind address in use, trying fallbacks", "addr", preferred)
	}

	for _, addr := range candidates {
		tried = append(tried, addr)
		if addrAvailable(addr) {
			slog.Info("bound to fallback address", "addr", addr)
			return addr, nil
		}
	}
	return "", fmt.Errorf("no bind address available, tried %v", tried)
}

func addrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
