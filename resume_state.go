package nyxdb

import "gopkg.in/mgo.v2/bson"

// resume_state.go is the Resume-Token Store component (spec §2.2, §4.5):
// the small per-stream state tracking which document the stream would
// resume from, and the precedence logic that picks exactly one selector
// to emit into the $changeStream stage.

// resumeSelectorKind names which field of the $changeStream stage a
// selector() result should be written into.
type resumeSelectorKind int

const (
	selectNone resumeSelectorKind = iota
	selectResumeAfter
	selectStartAfter
	selectStartAtOperationTime
)

// resumeSelector is the single selector resume() or open() emits into
// the $changeStream stage; exactly one of these is ever produced.
type resumeSelector struct {
	kind  resumeSelectorKind
	token bson.Raw               // for selectResumeAfter / selectStartAfter
	time  bson.MongoTimestamp    // for selectStartAtOperationTime
}

// resumeState holds the inputs to the spec §4.5 precedence table. A
// zero-value resumeState (new stream, no options) selects selectNone.
type resumeState struct {
	operationTime bson.MongoTimestamp
	haveOpTime    bool

	postBatchToken bson.Raw
	havePostBatch  bool
	atBatchBoundary bool // no buffered doc returned since last getMore

	resumeAfter bson.Raw
	haveResumeAfter bool

	startAfter bson.Raw
	haveStartAfter bool

	startAtOperationTime bson.MongoTimestamp
	haveStartAtOpTime    bool

	lastDocToken bson.Raw
	haveLastDoc  bool
}

// initFromOptions copies the user-supplied, option-sourced fields
// verbatim, per spec §4.5 open() step 1. It never touches lastDocToken
// or postBatchToken — those only ever come from the wire.
func (rs *resumeState) initFromOptions(opts ChangeStreamOptions) {
	if opts.ResumeAfter != nil {
		rs.resumeAfter = *opts.ResumeAfter
		rs.haveResumeAfter = true
	}
	if opts.StartAfter != nil {
		rs.startAfter = *opts.StartAfter
		rs.haveStartAfter = true
	}
	if opts.StartAtOperationTime != nil {
		rs.startAtOperationTime = *opts.StartAtOperationTime
		rs.haveStartAtOpTime = true
	}
	rs.atBatchBoundary = true
}

// observeOpenReply records the operationTime and postBatchResumeToken
// from a successful aggregate reply (spec §4.5 open() step 3).
func (rs *resumeState) observeOpenReply(reply bson.Raw) {
	if t, ok := lookupTimestamp(reply, "operationTime"); ok {
		rs.operationTime = t
		rs.haveOpTime = true
	}
	if pbrt, ok := lookupDocument(reply, "cursor", "postBatchResumeToken"); ok {
		rs.postBatchToken = pbrt
		rs.havePostBatch = true
	}
	rs.atBatchBoundary = true
}

// observeBatch records the postBatchResumeToken of a getMore reply and
// marks whether the stream is currently sitting at a batch boundary
// (true right after the call, before any document of this batch has
// been handed to the caller).
func (rs *resumeState) observeBatch(postBatchToken bson.Raw, havePostBatch bool) {
	if havePostBatch {
		rs.postBatchToken = postBatchToken
		rs.havePostBatch = true
	}
	rs.atBatchBoundary = true
}

// observeDocument records the resume token carried by a delivered
// document's _id field (spec §4.5 next(): "update last_doc_token to
// that document's _id field").
func (rs *resumeState) observeDocument(id bson.Raw) {
	rs.lastDocToken = id
	rs.haveLastDoc = true
	rs.atBatchBoundary = false
}

// selector implements the spec §4.5 precedence table, priority 1
// (highest) through 7, plus one priority-2.5 carve-out: on the very
// first open with both start_after and resume_after supplied, neither
// wins locally — both are forwarded and the server arbitrates.
// Otherwise exactly one of resumeAfter/startAfter/startAtOperationTime
// is ever selected; selectNone means no selector is emitted into
// $changeStream at all.
//
// isFirstOpen distinguishes the very first aggregate (where startAfter
// and resumeAfter are forwarded as-is per spec §4.5 table row 3/4's
// "first open uses startAfter") from a resume (where startAfter is
// rewritten to resumeAfter).
func (rs *resumeState) selector(isFirstOpen bool) resumeSelector {
	// Priority 1: post-batch token at a batch boundary.
	if rs.havePostBatch && rs.atBatchBoundary {
		return resumeSelector{kind: selectResumeAfter, token: rs.postBatchToken}
	}

	// Priority 2: a document was returned since the last cursor open.
	if rs.haveLastDoc {
		return resumeSelector{kind: selectResumeAfter, token: rs.lastDocToken}
	}

	// On the very first open only, a caller who supplied both start_after
	// and resume_after gets both forwarded verbatim into $changeStream,
	// letting the server arbitrate (spec §4.5 closing note / Open
	// Question (a)) rather than this store picking one by priority.
	// buildAggregateCommand's selectNone branch is what actually emits
	// both fields, reading opts.ResumeAfter/opts.StartAfter directly.
	if isFirstOpen && rs.haveStartAfter && rs.haveResumeAfter {
		return resumeSelector{kind: selectNone}
	}

	// Priority 3: user-supplied start_after, no document ever returned.
	if rs.haveStartAfter && !rs.haveLastDoc {
		if isFirstOpen {
			return resumeSelector{kind: selectStartAfter, token: rs.startAfter}
		}
		return resumeSelector{kind: selectResumeAfter, token: rs.startAfter}
	}

	// Priority 4: user-supplied resume_after, no document ever returned.
	if rs.haveResumeAfter && !rs.haveLastDoc {
		return resumeSelector{kind: selectResumeAfter, token: rs.resumeAfter}
	}

	// Priority 5: operationTime captured from the initial aggregate reply.
	if rs.haveOpTime {
		return resumeSelector{kind: selectStartAtOperationTime, time: rs.operationTime}
	}

	// Priority 6: user-supplied start_at_operation_time.
	if rs.haveStartAtOpTime {
		return resumeSelector{kind: selectStartAtOperationTime, time: rs.startAtOperationTime}
	}

	// Priority 7: nothing to select.
	return resumeSelector{kind: selectNone}
}

// bestResumeToken implements get_resume_token (spec §6): the current
// best resume token by the same precedence, expressed as a document
// rather than a $changeStream-stage fragment. It returns ok=false only
// when the selector is time-based or none — a caller asking for "the
// resume token" wants a document, and startAtOperationTime isn't one.
func (rs *resumeState) bestResumeToken(isFirstOpen bool) (bson.Raw, bool) {
	sel := rs.selector(isFirstOpen)
	switch sel.kind {
	case selectResumeAfter, selectStartAfter:
		return sel.token, true
	default:
		return bson.Raw{}, false
	}
}
