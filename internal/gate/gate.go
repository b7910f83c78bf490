// Package gate decides, once per connection, whether writes are permitted.
// It never authenticates anyone itself: the perimeter proxy has already done
// that and injects trusted headers the gate reads verbatim.
package gate

import (
	"net/http"
	"strings"
)

const (
	readOnlyHeader = "x-read-only"
	userIDHeader   = "x-user-id"
	userNameHeader = "x-user-name"
)

// Grant is the immutable per-connection admission decision. It is made
// exactly once, at connection establishment, and handed to every later
// handler for that connection.
type Grant struct {
	ReadOnly bool
	UserID   string
	UserName string
}

// Authorize inspects the trusted headers. Only an exact "true" (case
// insensitive) marks the connection read-only; absence or any other value
// implies read-write.
func Authorize(header http.Header) Grant {
	return Grant{
		ReadOnly: strings.EqualFold(strings.TrimSpace(header.Get(readOnlyHeader)), "true"),
		UserID:   strings.TrimSpace(header.Get(userIDHeader)),
		UserName: strings.TrimSpace(header.Get(userNameHeader)),
	}
}
