// Package wire implements the on-the-wire framing primitives shared by the
// gateway and relay node: the one-byte protocol tag and the delimiter-framed
// stream parser.
package wire

import (
	"fmt"

	"github.com/negyio/negy/internal/negyerr"
)

// Tag is the leading byte of the first packet on any relay connection.
type Tag byte

const (
	// TagTunnel marks a tunnel handshake packet.
	TagTunnel Tag = 0x01
	// TagContext marks a directory healthcheck / context probe.
	TagContext Tag = 0x02
)

// ParseTag parses the leading protocol tag from b. Any value other than
// TagTunnel or TagContext, including empty input, is a protocol error.
func ParseTag(b []byte) (Tag, error) {
	if len(b) == 0 {
		return 0, negyerr.Protocol("wire.ParseTag", negyerr.ErrUnknownTag)
	}
	switch Tag(b[0]) {
	case TagTunnel, TagContext:
		return Tag(b[0]), nil
	default:
		return 0, negyerr.Protocol("wire.ParseTag", negyerr.ErrUnknownTag)
	}
}

// CheckOKReply requires reply to be exactly the two ASCII bytes "OK" -- not
// merely prefixed by them. This is the corrected form of the upstream-reply
// check: the distilled source this protocol is based on wrongly accepted a
// three-byte reply whose first two bytes matched, by checking
// "n != 2 && bytes[..2] != OK" rather than requiring both conditions. Both
// the gateway and the relay node use this same check wherever they read an
// "OK" handshake reply.
func CheckOKReply(reply []byte) error {
	if len(reply) != 2 || string(reply) != "OK" {
		return negyerr.Handshake("wire.CheckOKReply", fmt.Errorf("%w: got %q", negyerr.ErrNotOK, reply))
	}
	return nil
}
