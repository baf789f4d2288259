package nyxdb

import (
	"fmt"

	stderrors "errors"

	"github.com/juju/errors"
	"gopkg.in/mgo.v2/bson"
)

// Sentinel errors for the transport layer (conn.go, topology.go).
var (
	errNoServerAvailable       = stderrors.New("nyxdb: no server available for read preference")
	errServerGone              = stderrors.New("nyxdb: server no longer part of topology")
	errShortOpMsg              = stderrors.New("nyxdb: truncated OP_MSG message")
	errUnsupportedOpMsgPayload = stderrors.New("nyxdb: unsupported OP_MSG payload type")
)

// Error kinds from spec §7. Each is a distinct Go type so callers can
// switch on errors.Cause(err).(type).

// ServerErr wraps a classified server reply: a non-zero command reply
// code/errmsg pair, as opposed to a client-local failure.
type ServerErr struct {
	Code   int32
	Msg    string
	Labels []string
	Raw    bson.Raw
}

func (e *ServerErr) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Msg)
}

// HasLabel reports whether the server tagged this reply with the given
// error label (e.g. "NonResumableChangeStreamError").
func (e *ServerErr) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NoResumeTokenErr is fatal: an event was delivered without a usable _id,
// so no future resume could recover a correct position.
type NoResumeTokenErr struct {
	Msg string
}

func (e *NoResumeTokenErr) Error() string {
	if e.Msg == "" {
		return "change stream document missing resume token"
	}
	return e.Msg
}

// InvalidArgumentErr signals a caller-supplied option the core rejects
// before ever touching the wire (e.g. a malformed pipeline shape).
type InvalidArgumentErr struct {
	Msg string
}

func (e *InvalidArgumentErr) Error() string { return e.Msg }

// ServerSelectionErr means no server could be found to satisfy the read
// preference. Always fatal (classify.go rule 1).
type ServerSelectionErr struct {
	Msg string
}

func (e *ServerSelectionErr) Error() string { return "server selection failed: " + e.Msg }

// TransportErr is a client-local transport failure (socket hang-up,
// timeout) that was not itself a decoded server reply.
type TransportErr struct {
	Msg string
	Err error
}

func (e *TransportErr) Error() string {
	if e.Err != nil {
		return "transport error: " + e.Msg + ": " + e.Err.Error()
	}
	return "transport error: " + e.Msg
}

// BsonInvalidErr means a reply could not be decoded as BSON.
type BsonInvalidErr struct {
	Err error
}

func (e *BsonInvalidErr) Error() string { return "invalid bson: " + e.Err.Error() }

// wrapf annotates err with a message using juju/errors, preserving the
// underlying cause so errors.Cause still recovers the typed error above.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Annotatef(err, format, args...)
}

// invalidArgument is a convenience constructor mirroring the juju/errors
// idiom used elsewhere in the pack (errors.NotValidf etc).
func invalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentErr{Msg: fmt.Sprintf(format, args...)}
}
