package nyxdb

import "gopkg.in/mgo.v2/bson"

// watch.go is the Public Facade (spec §4.1, §2 item 6): three entry
// points differing only in the namespace they target. All three are
// thin wrappers around openChangeStream (change_stream.go); the target
// kind is what decides the "aggregate" field's value and, for
// deployment-scoped watches, which database ("admin") the command runs
// against.

// ChangeStreamOptions is the configuration spec §4.1 enumerates. Every
// field is optional; a nil/empty pointer or value means "not set", not
// "set to the zero value" — that distinction matters for fields like
// BatchSize where 0 is itself a meaningful value a caller might pass.
type ChangeStreamOptions struct {
	// FullDocument is "default" or "update_lookup", passed through into
	// the $changeStream stage's fullDocument field. An empty value sends
	// "default".
	FullDocument string

	// ResumeAfter, StartAfter and StartAtOperationTime seed the resume
	// state at open (spec §4.5 step 1). At most a real deployment
	// accepts one of the first two; this module forwards whichever the
	// caller sets and lets the server arbitrate (spec §9 Open Question a).
	ResumeAfter          *bson.Raw
	StartAfter           *bson.Raw
	StartAtOperationTime *bson.MongoTimestamp

	// MaxAwaitTimeMS is forwarded to every getMore as maxTimeMS, never
	// to aggregate.
	MaxAwaitTimeMS *int64

	// BatchSize is forwarded as cursor.batchSize on aggregate and as
	// batchSize on every getMore.
	BatchSize *int32

	// Collation is forwarded as a top-level field on aggregate only.
	Collation *bson.M

	// ReadConcern is forwarded as a top-level field on aggregate only.
	ReadConcern *bson.M

	// WriteConcern is forwarded as a top-level field on aggregate only,
	// relevant when the user pipeline contains a writing stage such as
	// $merge or $out.
	WriteConcern *bson.M

	// ReadPreference drives server selection at open and at every
	// resume (spec §4.5 step 3: the original preference, not the
	// last-used server). The zero value is PrimaryPreferred.
	ReadPreference ReadPreference

	// Session threads a session handle through every command this
	// stream issues. Session bookkeeping itself is out of scope
	// (spec §1); the core only attaches the id (command.go's
	// appendSession).
	Session *Session
}

// Watch opens a collection-scoped change stream: aggregate = <coll-name>.
func (c *Collection) Watch(pipeline interface{}, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(c.db.client, TargetCollection, c.db.Name, c.Name, pipeline, opts)
}

// Watch opens a database-scoped change stream: aggregate = 1 against the
// database itself.
func (db *Database) Watch(pipeline interface{}, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(db.client, TargetDatabase, db.Name, "", pipeline, opts)
}

// Watch opens a deployment-scoped change stream: aggregate = 1 against
// the admin database (spec §4.1: "the numeric sentinel 1 on the admin
// database").
func (cl *Client) Watch(pipeline interface{}, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(cl, TargetDeployment, "admin", "", pipeline, opts)
}
