package nyxdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gopkg.in/mgo.v2/bson"
)

// cursor.go defines the Cursor collaborator: spec §1 names this "the
// low-level cursor that issues aggregate/getMore/killCursors commands"
// as out of scope, specifying only its interface (spec §6). This file
// is that interface plus the one concrete implementation the rest of
// the module runs against; cursor_adapter.go is the in-scope component
// that wraps it with change-stream semantics.
type Cursor interface {
	// Aggregate issues the aggregate command, selecting a server via
	// pref, and returns its reply plus the address it ran on — every
	// getMore/killCursors of this cursor's lifetime must target that
	// same server.
	Aggregate(ctx context.Context, cmd bson.D, pref ReadPreference) (reply bson.Raw, server string, err error)
	// GetMore issues a getMore against the server the cursor was
	// opened on.
	GetMore(ctx context.Context, cmd bson.D, server string) (bson.Raw, error)
	// KillCursors issues a best-effort killCursors against server.
	// Errors are for logging only; callers must not treat them as fatal.
	KillCursors(ctx context.Context, cmd bson.D, server string) error
}

// driverCursor is the concrete Cursor backed by the topology/conn layer
// (topology.go, server.go, conn.go), itself adapted from the teacher's
// cluster.go/server.go/socket.go.
type driverCursor struct {
	topology  *topology
	dbName    string
	observers []Observer
}

func newDriverCursor(t *topology, dbName string, observers []Observer) *driverCursor {
	return &driverCursor{topology: t, dbName: dbName, observers: observers}
}

// run dispatches cmd against conn, notifying every observer hung off this
// cursor before and after the call. This is the one chokepoint every
// aggregate/getMore/killCursors passes through, which is why it's where
// the APM-style command monitoring (spec §9) is wired rather than in the
// wire codec itself.
func (d *driverCursor) run(ctx context.Context, conn Conn, cmd bson.D) (bson.Raw, error) {
	reqID := uuid.New()
	name := commandName(cmd)
	notifyStarted(d.observers, CommandStartedEvent{RequestID: reqID, Database: d.dbName, CommandName: name, Command: cmd})

	start := time.Now()
	reply, err := conn.RunCommand(ctx, d.dbName, cmd)
	elapsed := time.Since(start)

	if err != nil {
		notifyFailed(d.observers, CommandFailedEvent{RequestID: reqID, CommandName: name, Duration: elapsed, Err: err})
		return bson.Raw{}, err
	}
	notifySucceeded(d.observers, CommandSucceededEvent{RequestID: reqID, CommandName: name, Duration: elapsed, Reply: reply})
	return reply, nil
}

func (d *driverCursor) Aggregate(ctx context.Context, cmd bson.D, pref ReadPreference) (bson.Raw, string, error) {
	conn, addr, err := d.topology.selectServer(ctx, pref)
	if err != nil {
		return bson.Raw{}, "", &ServerSelectionErr{Msg: err.Error()}
	}
	reply, err := d.run(ctx, conn, cmd)
	if err != nil {
		return bson.Raw{}, addr, err
	}
	return reply, addr, nil
}

func (d *driverCursor) GetMore(ctx context.Context, cmd bson.D, server string) (bson.Raw, error) {
	conn, err := d.topology.connTo(ctx, server)
	if err != nil {
		return bson.Raw{}, &TransportErr{Msg: "getMore: " + server, Err: err}
	}
	return d.run(ctx, conn, cmd)
}

func (d *driverCursor) KillCursors(ctx context.Context, cmd bson.D, server string) error {
	conn, err := d.topology.connTo(ctx, server)
	if err != nil {
		return &TransportErr{Msg: "killCursors: " + server, Err: err}
	}
	_, err = d.run(ctx, conn, cmd)
	return err
}
