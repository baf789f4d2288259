package nyxdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
)

// fake_cursor_test.go provides the in-process Cursor double every
// change_stream_test.go and cursor_adapter_test.go scenario drives
// instead of a live server, per spec §8's "mock server" collaborator.

type fakeReply struct {
	reply bson.Raw
	err   error
}

type fakeCursor struct {
	aggregateReplies []fakeReply
	getMoreReplies   []fakeReply
	killErr          error

	aggregateCalls []bson.D
	aggregatePrefs []ReadPreference
	getMoreCalls   []bson.D
	getMoreCtxs    []context.Context
	killCalls      []bson.D
}

func (f *fakeCursor) Aggregate(ctx context.Context, cmd bson.D, pref ReadPreference) (bson.Raw, string, error) {
	f.aggregateCalls = append(f.aggregateCalls, cmd)
	f.aggregatePrefs = append(f.aggregatePrefs, pref)
	if len(f.aggregateReplies) == 0 {
		panic("fakeCursor: no aggregate reply queued")
	}
	r := f.aggregateReplies[0]
	f.aggregateReplies = f.aggregateReplies[1:]
	return r.reply, "fake-server:27017", r.err
}

func (f *fakeCursor) GetMore(ctx context.Context, cmd bson.D, server string) (bson.Raw, error) {
	f.getMoreCalls = append(f.getMoreCalls, cmd)
	f.getMoreCtxs = append(f.getMoreCtxs, ctx)
	if len(f.getMoreReplies) == 0 {
		panic("fakeCursor: no getMore reply queued")
	}
	r := f.getMoreReplies[0]
	f.getMoreReplies = f.getMoreReplies[1:]
	return r.reply, r.err
}

func (f *fakeCursor) KillCursors(ctx context.Context, cmd bson.D, server string) error {
	f.killCalls = append(f.killCalls, cmd)
	return f.killErr
}

// rawDoc marshals m into a document-typed bson.Raw, the shape every
// aggregate/getMore reply and every delivered event arrives as.
func rawDoc(t *testing.T, m bson.M) bson.Raw {
	data, err := bson.Marshal(m)
	require.NoError(t, err)
	return bson.Raw{Kind: 0x03, Data: data}
}

// newTestChangeStream builds a ChangeStream against a fakeCursor without
// going through openChangeStream's Client/topology plumbing, so tests
// can drive open()/Next()/resume() directly and inspect every field.
func newTestChangeStream(cursor Cursor, collName string, pipeline interface{}, opts ChangeStreamOptions) *ChangeStream {
	return newTestChangeStreamKind(TargetCollection, cursor, collName, pipeline, opts)
}

// newTestChangeStreamKind is newTestChangeStream with an explicit target
// kind, for scenarios exercising database- or deployment-scoped streams
// (collName "" at construction, discovered later from cursor.ns).
func newTestChangeStreamKind(kind targetKind, cursor Cursor, collName string, pipeline interface{}, opts ChangeStreamOptions) *ChangeStream {
	cs := &ChangeStream{
		kind:     kind,
		dbName:   "db",
		collName: collName,
		pipeline: pipeline,
		opts:     opts,
		readPref: opts.ReadPreference,
		cursor:   cursor,
		log:      discardLogger(),
	}
	cs.adapter = newCursorAdapter(cursor, collName, opts, nil)
	cs.resumeState.initFromOptions(opts)
	return cs
}
