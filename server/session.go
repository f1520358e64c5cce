package server

import (
	"fmt"
	"log"
	"net"
	"time"
)

type Session struct {
	Id       string
	RemoteIP string
	*User
	HostName string
	Protocol string
}

// ClientIP extracts the bare IP from a connection's remote address.
// The ephemeral port must never end up in RemoteIP: the login limiter
// keys on user+IP, and a per-connection port would give every
// reconnect a fresh window.
func ClientIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Session) Log(format string, args ...interface{}) {
	now := time.Now().Format("2006-01-02 15:04:05")
	user := "unknown"
	if s.User != nil {
		user = fmt.Sprintf("%s/%d", s.FullAddress(), s.UserID())
	}
	log.Printf("%s %s remote=%s user=%s session=%s %s: %s",
		now,
		s.HostName,
		s.RemoteIP,
		user,
		s.Id,
		s.Protocol,
		fmt.Sprintf(format, args...),
	)
}
