package nyxdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
)

func TestResumeStateSelectorPrecedence(t *testing.T) {
	resumeAfter := rawDoc(t, bson.M{"resume": "after"})
	startAfter := rawDoc(t, bson.M{"start": "after"})
	postBatch := rawDoc(t, bson.M{"post": "batch"})
	lastDoc := rawDoc(t, bson.M{"last": "doc"})
	opTime := bson.MongoTimestamp(42)
	startAtOpTime := bson.MongoTimestamp(7)

	t.Run("priority1 post-batch token at boundary beats everything", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter, StartAfter: &startAfter})
		rs.observeBatch(postBatch, true)
		rs.observeDocument(lastDoc) // not at boundary, then re-establish boundary
		rs.observeBatch(postBatch, true)

		sel := rs.selector(false)
		require.Equal(t, selectResumeAfter, sel.kind)
		assert.Equal(t, postBatch.Data, sel.token.Data)
	})

	t.Run("priority2 last doc token beats start_after/resume_after", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter, StartAfter: &startAfter})
		rs.observeDocument(lastDoc)

		sel := rs.selector(false)
		require.Equal(t, selectResumeAfter, sel.kind)
		assert.Equal(t, lastDoc.Data, sel.token.Data)
	})

	t.Run("priority3 start_after on first open stays startAfter", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{StartAfter: &startAfter})

		sel := rs.selector(true)
		require.Equal(t, selectStartAfter, sel.kind)
		assert.Equal(t, startAfter.Data, sel.token.Data)
	})

	t.Run("priority3 start_after on resume is rewritten to resumeAfter", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{StartAfter: &startAfter})

		sel := rs.selector(false)
		require.Equal(t, selectResumeAfter, sel.kind)
		assert.Equal(t, startAfter.Data, sel.token.Data)
	})

	t.Run("first open with both resume_after and start_after forwards neither locally", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter, StartAfter: &startAfter})

		sel := rs.selector(true)
		require.Equal(t, selectNone, sel.kind, "buildAggregateCommand forwards both verbatim from opts when selector yields selectNone")
	})

	t.Run("resume with both resume_after and start_after still prefers start_after per priority 3", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter, StartAfter: &startAfter})

		sel := rs.selector(false)
		require.Equal(t, selectResumeAfter, sel.kind)
		assert.Equal(t, startAfter.Data, sel.token.Data)
	})

	t.Run("priority4 resume_after when no document ever returned", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter})

		sel := rs.selector(false)
		require.Equal(t, selectResumeAfter, sel.kind)
		assert.Equal(t, resumeAfter.Data, sel.token.Data)
	})

	t.Run("priority5 operationTime from initial reply beats user start_at_operation_time", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{StartAtOperationTime: &startAtOpTime})
		rs.observeOpenReply(rawDoc(t, bson.M{"operationTime": opTime}))

		sel := rs.selector(false)
		require.Equal(t, selectStartAtOperationTime, sel.kind)
		assert.Equal(t, opTime, sel.time)
	})

	t.Run("priority6 user start_at_operation_time when nothing else set", func(t *testing.T) {
		var rs resumeState
		rs.initFromOptions(ChangeStreamOptions{StartAtOperationTime: &startAtOpTime})

		sel := rs.selector(false)
		require.Equal(t, selectStartAtOperationTime, sel.kind)
		assert.Equal(t, startAtOpTime, sel.time)
	})

	t.Run("priority7 nothing set selects none", func(t *testing.T) {
		var rs resumeState
		sel := rs.selector(false)
		assert.Equal(t, selectNone, sel.kind)
	})
}

func TestResumeStateLastDocWinsOverPostBatchOnceOffBoundary(t *testing.T) {
	postBatch := rawDoc(t, bson.M{"post": "batch"})
	lastDoc := rawDoc(t, bson.M{"last": "doc"})

	var rs resumeState
	rs.observeBatch(postBatch, true)
	rs.observeDocument(lastDoc)

	sel := rs.selector(false)
	require.Equal(t, selectResumeAfter, sel.kind)
	assert.Equal(t, lastDoc.Data, sel.token.Data)
}

func TestBestResumeTokenAvailableBeforeAnyDocument(t *testing.T) {
	resumeAfter := rawDoc(t, bson.M{"resume": "after"})
	var rs resumeState
	rs.initFromOptions(ChangeStreamOptions{ResumeAfter: &resumeAfter})

	tok, ok := rs.bestResumeToken(true)
	require.True(t, ok)
	assert.Equal(t, resumeAfter.Data, tok.Data)
}

func TestBestResumeTokenFalseWhenOnlyOperationTimeSelected(t *testing.T) {
	var rs resumeState
	rs.observeOpenReply(rawDoc(t, bson.M{"operationTime": bson.MongoTimestamp(1)}))

	_, ok := rs.bestResumeToken(false)
	assert.False(t, ok)
}
