package helpers

import (
	"strings"

	"github.com/emersion/go-message"
)

// HeaderField is one message header as stored in the content index.
// K is the canonical header name, V the raw value and VS the search
// value: MIME-word decoded and lowercased at write time so header
// searches never decode at query time.
type HeaderField struct {
	K  string `json:"k"`
	V  string `json:"v"`
	VS string `json:"vs"`
}

// NormalizeHeaders flattens a message header into indexable fields,
// preserving the original order of repeated fields.
func NormalizeHeaders(header message.Header) []HeaderField {
	var out []HeaderField
	fields := header.Fields()
	for fields.Next() {
		raw := fields.Value()
		decoded, err := fields.Text()
		if err != nil {
			decoded = raw
		}
		out = append(out, HeaderField{
			K:  strings.ToLower(fields.Key()),
			V:  SanitizeUTF8(raw),
			VS: strings.ToLower(SanitizeUTF8(decoded)),
		})
	}
	return out
}
