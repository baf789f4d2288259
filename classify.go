package nyxdb

import "strings"

// classify.go is the Error Classifier component (spec §4.4): a pure,
// table-driven function from a server reply or client-local transport
// event to a classification. It never touches the network or a
// ChangeStream; every case in the switch corresponds to one numbered
// rule in the spec, evaluated in order.

type classifiedErrorKind int

const (
	classNone classifiedErrorKind = iota
	classResumableKillCursor
	classResumableNoKill
	classFatal
	classClientLocal
)

func (k classifiedErrorKind) resumable() bool {
	return k == classResumableKillCursor || k == classResumableNoKill
}

// classification is the classifier's full verdict: the kind used to
// decide whether next() resumes, plus whether a killCursors should be
// attempted before whatever happens next. The two are independent
// dimensions — code 136 is fatal (no resume) yet still kill-cursor,
// per spec §4.4 rule 4's parenthetical.
type classification struct {
	kind       classifiedErrorKind
	killCursor bool
}

// nonResumableCodes is the denylist from spec §4.4 rule 4: server codes
// that are never safe to resume from even though they arrive as ordinary
// command errors.
var nonResumableCodes = map[int32]string{
	11601: "interrupted",
	136:   "capped position lost",
	237:   "cursor killed",
}

// killCursorOnFatalCodes names the subset of nonResumableCodes for which
// the spec still wants a best-effort killCursors before giving up
// (spec §4.4 rule 4 parenthetical: "a killCursors is attempted for code
// 136 only").
var killCursorOnFatalCodes = map[int32]bool{
	136: true,
}

// nonResumableLabel is the error-label protocols use to tag a reply as
// non-resumable regardless of its numeric code.
const nonResumableLabel = "NonResumableChangeStreamError"

// classificationInput bundles the pieces of a failed operation the
// classifier needs. transportHangUp and duringGetMore are set by the
// caller (change_stream.go's classifyNextError) when the failure happened below
// the command-reply layer, i.e. there was no reply to classify.
type classificationInput struct {
	serverSelectionFailed bool
	transportHangUp       bool
	duringGetMore         bool
	reply                 *ServerErr // nil if there's no decoded reply
}

// classify implements spec §4.4's ordered rule list. It is a pure
// function: same input, same output, no side effects, so the state
// machine can call it freely on retry.
func classify(in classificationInput) classification {
	// Rule 1: client-local server-selection failure.
	if in.serverSelectionFailed {
		return classification{kind: classFatal}
	}

	// Rule 2: transport hang-up during getMore (or elsewhere). The
	// server socket is gone; a killCursors against it would be
	// pointless, so resumable-no-kill either way.
	if in.transportHangUp {
		return classification{kind: classResumableNoKill}
	}

	if in.reply == nil {
		return classification{kind: classClientLocal}
	}

	// Rule 3: no numeric code but a replica-set state errmsg.
	if in.reply.Code == 0 && containsAny(in.reply.Msg, "not master", "node is recovering") {
		return classification{kind: classResumableNoKill}
	}

	// Rule 4: non-resumable denylist, by code or by label.
	if _, denied := nonResumableCodes[in.reply.Code]; denied {
		return classification{kind: classFatal, killCursor: killCursorOnFatalCodes[in.reply.Code]}
	}
	if in.reply.HasLabel(nonResumableLabel) {
		return classification{kind: classFatal}
	}

	// Rule 5: any other non-zero code is resumable, killing the cursor
	// before the resume aggregate.
	if in.reply.Code != 0 {
		return classification{kind: classResumableKillCursor, killCursor: true}
	}

	return classification{kind: classNone}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
