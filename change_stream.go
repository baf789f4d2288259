package nyxdb

import (
	"context"

	"github.com/sirupsen/logrus"
	"gopkg.in/mgo.v2/bson"
)

// change_stream.go is the Change-Stream State Machine (spec §4.5), the
// orchestrator owning the cursor adapter and the resume-token store. It
// is the only component that ever decides to resume; everything below
// it (classify.go, cursor_adapter.go) only reports what happened.

type streamState int

const (
	streamOpen streamState = iota
	streamErrored
	streamClosed
)

// ChangeStream is the object watch.go hands back. Every field not owned
// by resume_state.go or cursor_adapter.go maps directly onto the
// spec.md §3 data-model row for ChangeStream.
type ChangeStream struct {
	kind     targetKind
	dbName   string
	collName string
	pipeline interface{}
	opts     ChangeStreamOptions
	readPref ReadPreference

	cursor      Cursor
	adapter     *cursorAdapter
	resumeState resumeState

	state      streamState
	err        error
	everOpened bool

	log   logrus.FieldLogger
	stats *Stats
}

// openChangeStream implements open() (spec §4.5): build the initial
// aggregate command from option-sourced fields only, issue it, and on
// success seed the resume state from the reply. Facades (watch.go) never
// construct a ChangeStream directly.
func openChangeStream(cl *Client, kind targetKind, dbName, collName string, pipeline interface{}, opts ChangeStreamOptions) (*ChangeStream, error) {
	cs := &ChangeStream{
		kind:     kind,
		dbName:   dbName,
		collName: collName,
		pipeline: pipeline,
		opts:     opts,
		readPref: opts.ReadPreference,
		cursor:   cl.cursor(dbName),
		log:      cl.log,
		stats:    cl.stats,
	}
	if cs.log == nil {
		cs.log = discardLogger()
	}
	cs.adapter = newCursorAdapter(cs.cursor, collName, opts, cl.clock)
	cs.resumeState.initFromOptions(opts)

	if err := cs.open(context.Background()); err != nil {
		cs.stats.fatal()
		return nil, err
	}
	return cs, nil
}

// open issues one aggregate command built from the current resume state
// and, on success, folds the reply into it. Both the very first open and
// every resume's step 3 call this: isFirstOpen is simply "this stream
// has never opened a cursor before", which is exactly the distinction
// resume_state.selector needs for precedence rule 3 (spec §4.5 table,
// row 3's footnote).
func (cs *ChangeStream) open(ctx context.Context) error {
	sel := cs.resumeState.selector(!cs.everOpened)
	cmd, err := buildAggregateCommand(cs.kind, cs.collName, cs.pipeline, sel, cs.opts)
	if err != nil {
		return err
	}

	reply, server, err := cs.cursor.Aggregate(ctx, cmd, cs.readPref)
	if err != nil {
		return err
	}
	if err := cs.adapter.loadFromAggregateReply(reply, server); err != nil {
		return err
	}

	cs.resumeState.observeOpenReply(reply)
	cs.everOpened = true
	cs.stats.streamOpened()
	return nil
}

// Next pulls one document, per spec §4.5 next(). A resumable error gets
// exactly one resume-and-retry within this call — that's enforced by
// this function's own fixed pull/resume/pull shape, not by any state
// resume() or pull() carries — whatever the retry returns (document,
// no-document, or a second error) is final.
func (cs *ChangeStream) Next(ctx context.Context) (doc bson.Raw, hasDoc bool, err error) {
	if cs.state != streamOpen {
		return bson.Raw{}, false, cs.err
	}

	doc, hasDoc, err = cs.pull(ctx)
	if err == nil {
		return doc, hasDoc, nil
	}

	cls := classifyNextError(err)
	if !cls.kind.resumable() {
		if cls.killCursor {
			cs.adapter.killCursors(ctx)
			cs.stats.killCursorsSent()
		}
		cs.fail(err)
		cs.stats.fatal()
		return bson.Raw{}, false, cs.err
	}

	if rerr := cs.resume(ctx, cls); rerr != nil {
		cs.fail(rerr)
		cs.stats.resumeFailed()
		return bson.Raw{}, false, cs.err
	}

	doc, hasDoc, err = cs.pull(ctx)
	if err != nil {
		cs.fail(err)
		cs.stats.fatal()
		return bson.Raw{}, false, cs.err
	}
	return doc, hasDoc, nil
}

// pull drives the cursor adapter once and folds a returned document's
// _id into the resume state. A missing or non-document _id is always
// fatal (spec §7): no future resume could be correct without it.
func (cs *ChangeStream) pull(ctx context.Context) (bson.Raw, bool, error) {
	doc, hasDoc, polled, err := cs.adapter.next(ctx)
	if err != nil {
		return bson.Raw{}, false, err
	}

	if polled {
		pbrt, have := cs.adapter.postBatchResumeToken()
		cs.resumeState.observeBatch(pbrt, have)
	}

	if !hasDoc {
		cs.stats.emptyPoll()
		return bson.Raw{}, false, nil
	}

	id, ok := lookupDocument(doc, "_id")
	if !ok {
		return bson.Raw{}, false, &NoResumeTokenErr{Msg: "Cannot provide resume functionality when the resume token is missing"}
	}
	cs.resumeState.observeDocument(id)
	cs.stats.documentDelivered()
	return doc, true, nil
}

// resume implements spec §4.5 resume(): a best-effort killCursors when
// the classifier said so, then a fresh open using the original read
// preference (already fixed at construction, never mutated per call).
func (cs *ChangeStream) resume(ctx context.Context, cls classification) error {
	if cls.killCursor {
		cs.adapter.killCursors(ctx)
		cs.stats.killCursorsSent()
	}
	cs.stats.resumed(cls.kind)

	return cs.open(ctx)
}

// classifyNextError turns whatever error pull() surfaced into the
// classifier's verdict. This glue — translating a Go error type into
// classificationInput — lives here rather than in classify.go because
// the classifier stays a pure function over a reply (spec §9: "the
// classifier is a free function taking a reply, not a method").
func classifyNextError(err error) classification {
	switch e := err.(type) {
	case *ServerSelectionErr:
		return classify(classificationInput{serverSelectionFailed: true})
	case *TransportErr:
		return classify(classificationInput{transportHangUp: true, duringGetMore: true})
	case *ServerErr:
		return classify(classificationInput{duringGetMore: true, reply: e})
	default:
		return classify(classificationInput{duringGetMore: true})
	}
}

// fail transitions the stream to Errored and records err as the sticky
// error every subsequent Next returns verbatim (spec §3 invariant: "a
// stream that has entered fatal-error state ... always returns that
// same sticky error").
func (cs *ChangeStream) fail(err error) {
	cs.state = streamErrored
	cs.err = err
}

// Err returns the current sticky error, or nil if the stream is healthy.
// It keeps returning whatever was set even after Close (spec_full.md §6,
// grounded on the C driver's mongoc_change_stream_error_document).
func (cs *ChangeStream) Err() error {
	return cs.err
}

// ResumeToken returns the current best resume token by the §4.5
// precedence, as a document rather than a $changeStream-stage fragment.
// It is available once open has succeeded, even before any document has
// been delivered (spec_full.md §6).
func (cs *ChangeStream) ResumeToken() (bson.Raw, bool) {
	return cs.resumeState.bestResumeToken(!cs.everOpened)
}

// Close issues a best-effort killCursors for any live cursor and
// transitions to Closed. Calling Close again is a no-op (spec_full.md
// §6's re-entrant Close), and Err keeps reporting whatever sticky error
// was set before Close, per that same section.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if cs.state == streamClosed {
		return nil
	}
	cs.adapter.killCursors(ctx)
	cs.state = streamClosed
	return nil
}
