package nyxdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"gopkg.in/mgo.v2/bson"
)

// session.go adapts the teacher's Session/Database/Collection (same
// three-type namespace shape) into the handles the Public Facade hangs
// off of. The teacher's Session owned a *mongoCluster and a checked-out
// *mongoSocket with a configurable consistency mode (Strong/Monotonic/
// Eventual) for general CRUD; a change-stream client has no analogous
// per-query consistency knob, so Client here owns only what watch.go's
// three entry points need: a topology to select servers from and the
// ambient logging/clock/observer wiring spec_full.md's AMBIENT STACK
// calls for.
type Client struct {
	topology  *topology
	log       logrus.FieldLogger
	clock     clock.Clock
	observers []Observer
	stats     *Stats
}

// ClientOptions configures Dial. A zero-value ClientOptions dials with a
// discard logger, the wall clock, no observers and no stats collection.
type ClientOptions struct {
	Log       logrus.FieldLogger
	Clock     clock.Clock
	Observers []Observer
	Stats     *Stats
}

// Dial connects to every seed address and classifies each as master or
// secondary via an isMaster/hello handshake (topology.go), the same
// shape as the teacher's mgo.Dial minus the URI-string parsing this
// module has no use for.
func Dial(seeds ...string) (*Client, error) {
	return DialWithOptions(ClientOptions{}, seeds...)
}

func DialWithOptions(opts ClientOptions, seeds ...string) (*Client, error) {
	log := opts.Log
	if log == nil {
		log = discardLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	dial := func(addr string) (Conn, error) { return dialWireConn(addr, log) }
	topo := newTopology(seeds, dial, log)
	if err := topo.sync(context.Background()); err != nil {
		return nil, wrapf(err, "dial: no seed reachable")
	}

	return &Client{topology: topo, log: log, clock: clk, observers: opts.Observers, stats: opts.Stats}, nil
}

// Database returns a handle for name; it does not contact the server.
func (cl *Client) Database(name string) *Database {
	return &Database{client: cl, Name: name}
}

// Close releases every connection this client holds open.
func (cl *Client) Close() error {
	cl.topology.close()
	return nil
}

// cursor builds the Cursor collaborator a ChangeStream runs its
// aggregate/getMore/killCursors through, wired to this client's
// observers (cursor.go's driverCursor.run notifies them per dispatch).
func (cl *Client) cursor(dbName string) Cursor {
	return newDriverCursor(cl.topology, dbName, cl.observers)
}

// Database is a namespace handle; it carries no state of its own beyond
// the client it was created from and its name.
type Database struct {
	client *Client
	Name   string
}

// Collection returns a handle for name within db.
func (db *Database) Collection(name string) *Collection {
	return &Collection{db: db, Name: name}
}

// Collection is a namespace handle scoped to one collection of one
// database.
type Collection struct {
	db   *Database
	Name string
}

// Session is the opaque handle spec §4.1 calls "session: session handle
// — threaded through". Session bookkeeping (causal consistency,
// transaction state, cluster time) is the out-of-scope "session
// bookkeeping" collaborator of spec.md §1; this module keeps only what
// threading a session through a command needs, its logical id.
type Session struct {
	ID bson.Raw
}

// NewSession mints a Session with a fresh logical id. Real session
// bookkeeping (causal consistency tokens, cluster time) is out of
// scope; all this id does is let the server associate the commands a
// ChangeStream issues with one another.
func NewSession() *Session {
	data, _ := bson.Marshal(bson.M{"id": uuid.New().String()})
	return &Session{ID: bson.Raw{Kind: 0x03, Data: data}}
}
