package nyxdb

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"gopkg.in/mgo.v2/bson"
)

// cursor_adapter.go is the Cursor Adapter component (spec §4.3): it
// wraps a Cursor with change-stream semantics — batch exhaustion,
// per-document and post-batch token extraction, surfacing classified-
// by-the-caller errors. It never decides to resume; change_stream.go
// does that with whatever error this adapter hands back.
//
// Adapted from the teacher's cursor_batch.go (CursorFirstBatch/
// CursorGetMore), which did the same firstBatch/nextBatch-then-pop
// dance against the legacy wire protocol.
type cursorAdapter struct {
	cursor   Cursor
	collName string
	opts     ChangeStreamOptions
	clk      clock.Clock

	server string
	id     int64
	batch  docQueue

	postBatchToken bson.Raw
	havePostBatch  bool
}

// newCursorAdapter seeds collName with the caller's best guess — the
// real collection name for a collection-scoped stream, empty for a
// database- or deployment-scoped one. loadFromAggregateReply overwrites
// it with the name actually returned in cursor.ns as soon as a reply
// arrives, so every getMore/killCursors after the first one targets the
// name the server told us, not this placeholder.
//
// clk sources the deadline next() derives from max_await_time_ms; a nil
// clk (the fakeCursor-backed tests that don't care about timing) falls
// back to the wall clock, same default DialWithOptions uses.
func newCursorAdapter(cursor Cursor, collName string, opts ChangeStreamOptions, clk clock.Clock) *cursorAdapter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &cursorAdapter{cursor: cursor, collName: collName, opts: opts, clk: clk}
}

// collNameFromNS extracts the collection part of a "db.coll"-style
// namespace the way the driver family this module is drawn from derives
// its getMore/killCursors target: everything after the first dot. A
// database- or deployment-scoped aggregate reports a namespace like
// "db.$cmd.aggregate", whose collection part ("$cmd.aggregate") is what
// getMore/killCursors must send — aggregate:1's "db"/"admin" is never a
// real collection to run getMore against.
func collNameFromNS(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// loadFromAggregateReply consumes a successful aggregate reply: cursor
// id, namespace, first batch, and post-batch token if present (spec §6's
// "Consumed by the core, from the first aggregate reply").
func (a *cursorAdapter) loadFromAggregateReply(reply bson.Raw, server string) error {
	id, ok := lookupInt64(reply, "cursor", "id")
	if !ok {
		return invalidArgument("aggregate reply missing cursor.id")
	}
	firstBatch, _ := lookupArray(reply, "cursor", "firstBatch")

	a.server = server
	a.id = id
	if ns, ok := lookupString(reply, "cursor", "ns"); ok {
		a.collName = collNameFromNS(ns)
	}
	a.batch.reset()
	for _, doc := range firstBatch {
		a.batch.Push(doc)
	}
	if pbrt, ok := lookupDocument(reply, "cursor", "postBatchResumeToken"); ok {
		a.postBatchToken = pbrt
		a.havePostBatch = true
	} else {
		a.havePostBatch = false
	}
	return nil
}

// next implements spec §4.3's three cases: pop a buffered document,
// fetch a new batch via getMore, or report "no document" when the
// cursor has died. hasDoc is false with a nil error in the no-document
// case — that's not an error, it's the steady state of an empty poll.
// polledServer reports whether a getMore actually went out on the wire
// this call; the state machine folds the batch's post-batch token and
// batch boundary into its resume state (resumeState.observeBatch) only
// when it is true, not on every no-document return (cursor id already
// zero issues nothing).
func (a *cursorAdapter) next(ctx context.Context) (doc bson.Raw, hasDoc bool, polledServer bool, err error) {
	if d, ok := a.batch.Pop(); ok {
		return d, true, false, nil
	}
	if a.id == 0 {
		return bson.Raw{}, false, false, nil
	}

	cmd := buildGetMoreCommand(a.id, a.collName, a.opts)

	// max_await_time_ms is sent to the server as maxTimeMS, but a socket
	// that never hears back (a hung connection, not a clean "no new
	// documents yet" reply) needs its own client-side bound — the server
	// can't enforce a timeout on a message it never received. a.clk is
	// what makes that bound testable without a real sleep.
	if a.opts.MaxAwaitTimeMS != nil {
		deadline := a.clk.Now().Add(time.Duration(*a.opts.MaxAwaitTimeMS) * time.Millisecond)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	reply, err := a.cursor.GetMore(ctx, cmd, a.server)
	if err != nil {
		return bson.Raw{}, false, false, err
	}

	id, ok := lookupInt64(reply, "cursor", "id")
	if !ok {
		return bson.Raw{}, false, false, invalidArgument("getMore reply missing cursor.id")
	}
	nextBatch, _ := lookupArray(reply, "cursor", "nextBatch")

	a.id = id
	if ns, ok := lookupString(reply, "cursor", "ns"); ok {
		a.collName = collNameFromNS(ns)
	}
	a.batch.reset()
	for _, d := range nextBatch {
		a.batch.Push(d)
	}
	if pbrt, ok := lookupDocument(reply, "cursor", "postBatchResumeToken"); ok {
		a.postBatchToken = pbrt
		a.havePostBatch = true
	}

	if d, ok := a.batch.Pop(); ok {
		return d, true, true, nil
	}
	return bson.Raw{}, false, true, nil
}

// killCursors issues a best-effort killCursors for the cursor this
// adapter holds, if any, per spec §4.5 step 1 and §4.6 destroy(). Its
// result and any error are swallowed by design (spec §7: "killCursors
// failures during resume are swallowed by design").
func (a *cursorAdapter) killCursors(ctx context.Context) {
	if a.id == 0 {
		return
	}
	cmd := buildKillCursorsCommand(a.id, a.collName)
	_ = a.cursor.KillCursors(ctx, cmd, a.server)
	a.id = 0
}

// liveCursorID reports the cursor id currently in play, for callers
// that need to know whether a cursor exists without popping from it.
func (a *cursorAdapter) liveCursorID() int64 {
	return a.id
}

// postBatchResumeToken reports the latest postBatchResumeToken this
// adapter has seen, for the state machine to feed into resumeState
// after each next() that issued a getMore (spec §4.5 precedence rule 1).
func (a *cursorAdapter) postBatchResumeToken() (bson.Raw, bool) {
	return a.postBatchToken, a.havePostBatch
}
