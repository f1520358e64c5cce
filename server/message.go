package server

import (
	"fmt"
	"io"
	"log"

	"github.com/emersion/go-message"
)

// ParseMessage reads and parses an email message. Unknown charsets are
// tolerated; the raw bytes are stored verbatim anyway.
func ParseMessage(r io.Reader) (*message.Entity, error) {
	m, err := message.Read(r)
	if message.IsUnknownCharset(err) {
		log.Println("Unknown encoding:", err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read message: %v", err)
	}
	return m, nil
}
