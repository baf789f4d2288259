package nyxdb

import "gopkg.in/mgo.v2/bson"

// server.go adapts the teacher's mongoServer: here a topologyServer is
// just an address plus the one Conn to it and its role, since
// connection pooling is an explicit Non-goal (spec §1) — one command
// in flight at a time is all a single-threaded ChangeStream ever needs.
type topologyServer struct {
	addr      string
	conn      Conn
	master    bool
	secondary bool
}

// ReadPreferenceMode mirrors the handful of modes the wire protocol
// distinguishes; spec §4.1 only requires that the mode picked at open
// is the one resume uses again (spec §4.5 step 3).
type ReadPreferenceMode int

const (
	PrimaryPreferred ReadPreferenceMode = iota
	Primary
	Secondary
	SecondaryPreferred
	Nearest
)

// ReadPreference is forwarded into the driver layer's server selection
// (spec §4.1 "read_preference: forwarded") and carried, unchanged, from
// the original open into every resume.
type ReadPreference struct {
	Mode ReadPreferenceMode
	Tags []bson.M
}

// isMasterCommand is the handshake topology.sync runs against every
// seed to classify it as master or secondary.
func isMasterCommand() bson.D {
	return bson.D{{Name: "ismaster", Value: 1}}
}
