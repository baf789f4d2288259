package nyxdb

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/mgo.v2/bson"
)

// conn.go adapts the teacher's socket.go: same shape (a mutex-guarded
// net.Conn, a monotonic request id, a debug log line on every op) but
// updated from the legacy OP_QUERY/OP_REPLY/OP_GET_MORE/OP_KILL_CURSORS
// opcodes the teacher used to the OP_MSG command protocol that
// aggregate/getMore/killCursors actually run over on modern servers.
// Because the change-stream core only ever has one command in flight
// per Conn (spec §5: "single-threaded cooperative with respect to one
// ChangeStream instance"), RunCommand is a single blocking
// write-then-read under the mutex rather than the teacher's
// multiplexed readLoop-plus-reply-function-table.

const (
	opMsg            = 2013
	opMsgChecksumFlag = 1 << 0
)

// Conn is the minimal transport the topology hands back to a Cursor:
// run one command, get one reply document back.
type Conn interface {
	RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error)
	Close() error
}

type wireConn struct {
	mu            sync.Mutex
	conn          net.Conn
	addr          string
	nextRequestID int32
	log           logrus.FieldLogger
}

// dialWireConn dials addr and wraps it. The socket deadline RunCommand
// applies comes entirely from ctx.Deadline() — the caller (cursor_adapter.go)
// is what derives that deadline from a clock.Clock and max_await_time_ms;
// wireConn itself has no independent notion of time.
func dialWireConn(addr string, log logrus.FieldLogger) (*wireConn, error) {
	if log == nil {
		log = discardLogger()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &wireConn{conn: conn, addr: addr, log: log}, nil
}

func (w *wireConn) Close() error {
	return w.conn.Close()
}

// RunCommand sends cmd as the single document of an OP_MSG section 0
// body (with "$db" appended), then reads and decodes the single-reply
// OP_MSG that comes back. A command reply with ok != 1 becomes a
// *ServerErr rather than a Go error from the write/read itself, so the
// caller (cursor.go) can classify it; anything below that layer — a
// dial failure, a write error, a read timeout — surfaces as
// *TransportErr.
func (w *wireConn) RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error) {
	full := append(bson.D{}, cmd...)
	full = append(full, bson.DocElem{Name: "$db", Value: dbName})

	body, err := bson.Marshal(full)
	if err != nil {
		return bson.Raw{}, &BsonInvalidErr{Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetDeadline(deadline)
		defer w.conn.SetDeadline(time.Time{})
	}

	requestID := w.nextRequestID
	w.nextRequestID++

	msg := encodeOpMsg(requestID, body)
	w.log.WithFields(logrus.Fields{"addr": w.addr, "requestId": requestID}).Debug("nyxdb: sending command")
	if _, err := w.conn.Write(msg); err != nil {
		return bson.Raw{}, &TransportErr{Msg: "write to " + w.addr, Err: err}
	}

	reply, err := readOpMsg(w.conn)
	if err != nil {
		return bson.Raw{}, &TransportErr{Msg: "read from " + w.addr, Err: err}
	}

	return decodeCommandReply(reply)
}

// decodeCommandReply turns a raw reply document into either the
// document itself (ok: 1) or a *ServerErr (ok: 0 or absent, which the
// wire protocol treats the same as a failure).
func decodeCommandReply(reply bson.Raw) (bson.Raw, error) {
	okVal, hasOk := lookupInt64(reply, "ok")
	var okFloat float64
	if !hasOk {
		if f, ok := lookupFloat(reply, "ok"); ok {
			okFloat = f
			hasOk = true
		}
	} else {
		okFloat = float64(okVal)
	}
	if hasOk && okFloat == 1 {
		return reply, nil
	}

	code, _ := lookupInt64(reply, "code")
	msg, _ := lookupString(reply, "errmsg")
	var labels []string
	if rawLabels, ok := lookupArray(reply, "errorLabels"); ok {
		for _, l := range rawLabels {
			var s string
			if l.Unmarshal(&s) == nil {
				labels = append(labels, s)
			}
		}
	}
	return bson.Raw{}, &ServerErr{Code: int32(code), Msg: msg, Labels: labels, Raw: reply}
}

func lookupFloat(doc bson.Raw, path ...string) (float64, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok || raw.Kind != 0x01 {
		return 0, false
	}
	var v float64
	if err := raw.Unmarshal(&v); err != nil {
		return 0, false
	}
	return v, true
}

// encodeOpMsg wraps body (an already-marshaled BSON document) as a
// single-section OP_MSG message with the standard 16-byte header.
func encodeOpMsg(requestID int32, body []byte) []byte {
	// header: messageLength(4) requestID(4) responseTo(4) opCode(4)
	// body:   flagBits(4) payloadType(1)=0 document
	const headerLen = 16
	msgLen := headerLen + 4 + 1 + len(body)

	buf := make([]byte, msgLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(msgLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(buf[8:12], 0) // responseTo
	binary.LittleEndian.PutUint32(buf[12:16], uint32(opMsg))
	binary.LittleEndian.PutUint32(buf[16:20], 0) // flagBits
	buf[20] = 0                                  // payload type 0: body
	copy(buf[21:], body)
	return buf
}

// readOpMsg reads one OP_MSG message off conn and returns its single
// body document. Only payload type 0 (body) sections are supported —
// the only kind a command reply without a document sequence ever uses.
func readOpMsg(conn net.Conn) (bson.Raw, error) {
	header := make([]byte, 16)
	if _, err := readFull(conn, header); err != nil {
		return bson.Raw{}, err
	}
	msgLen := binary.LittleEndian.Uint32(header[0:4])
	if msgLen < 21 {
		return bson.Raw{}, errShortOpMsg
	}
	rest := make([]byte, msgLen-16)
	if _, err := readFull(conn, rest); err != nil {
		return bson.Raw{}, err
	}

	flagBits := binary.LittleEndian.Uint32(rest[0:4])
	payload := rest[4:]
	if flagBits&opMsgChecksumFlag != 0 {
		payload = payload[:len(payload)-4]
	}
	if len(payload) == 0 || payload[0] != 0 {
		return bson.Raw{}, errUnsupportedOpMsgPayload
	}
	docBytes := payload[1:]
	return bson.Raw{Kind: 0x03, Data: docBytes}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
