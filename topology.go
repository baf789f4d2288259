package nyxdb

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// topology.go adapts the teacher's mongoCluster (cluster.go): a set of
// seed addresses, classified into masters and slaves by an isMaster/
// hello handshake, that server selection picks from. Full SDAM (dynamic
// seed-list discovery by recursing through peers' host lists, continuous
// background re-synchronization) is explicitly out of scope per spec §1
// ("server selection and topology monitoring (SDAM)... with only their
// interfaces specified"); this keeps the teacher's masters/slaves
// partition and AcquireSocket(write bool)-style selection, simplified to
// a one-shot sync of the configured seeds.
type topology struct {
	mu      sync.RWMutex
	seeds   []string
	servers map[string]*topologyServer
	masters []string
	slaves  []string

	dial dialer
	log  logrus.FieldLogger
}

// dialer abstracts conn construction so tests can substitute a fake
// Conn without opening a real socket.
type dialer func(addr string) (Conn, error)

func newTopology(seeds []string, dial dialer, log logrus.FieldLogger) *topology {
	if log == nil {
		log = discardLogger()
	}
	return &topology{
		seeds:   seeds,
		servers: make(map[string]*topologyServer),
		dial:    dial,
		log:     log,
	}
}

// sync contacts every seed, adapted from the teacher's syncServer: runs
// "isMaster" (spec-era name for "hello") and classifies the server as
// master or secondary from the reply.
func (t *topology) sync(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, addr := range t.seeds {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv, err := t.connectAndClassify(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.log.WithError(err).WithField("addr", addr).Warn("topology: sync failed")
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			t.servers[addr] = srv
		}()
	}
	wg.Wait()

	t.mu.Lock()
	t.rebuildLists()
	t.mu.Unlock()

	if len(t.servers) == 0 {
		return firstErr
	}
	return nil
}

func (t *topology) connectAndClassify(ctx context.Context, addr string) (*topologyServer, error) {
	conn, err := t.dial(addr)
	if err != nil {
		return nil, err
	}
	reply, err := conn.RunCommand(ctx, "admin", isMasterCommand())
	if err != nil {
		return nil, err
	}
	var hello struct {
		IsMaster  bool `bson:"ismaster"`
		Secondary bool `bson:"secondary"`
	}
	if err := reply.Unmarshal(&hello); err != nil {
		return nil, &BsonInvalidErr{Err: err}
	}
	return &topologyServer{addr: addr, conn: conn, master: hello.IsMaster, secondary: hello.Secondary}, nil
}

func (t *topology) rebuildLists() {
	masters := make([]string, 0, len(t.servers))
	slaves := make([]string, 0, len(t.servers))
	for addr, srv := range t.servers {
		if srv.master {
			masters = append(masters, addr)
		} else {
			slaves = append(slaves, addr)
		}
	}
	sort.Strings(masters)
	sort.Strings(slaves)
	t.masters = masters
	t.slaves = slaves
}

// selectServer implements server selection for the given read
// preference (spec §4.5 step 3: resume must use "the original read
// preference, not the last-used server"). It returns the chosen
// server's address alongside its Conn so the caller can pin subsequent
// getMore/killCursors calls to the same address.
func (t *topology) selectServer(ctx context.Context, pref ReadPreference) (Conn, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []string
	switch pref.Mode {
	case Primary:
		candidates = t.masters
	case Secondary:
		candidates = t.slaves
	case SecondaryPreferred:
		if len(t.slaves) > 0 {
			candidates = t.slaves
		} else {
			candidates = t.masters
		}
	default: // PrimaryPreferred, Nearest: prefer primary, fall back to any
		if len(t.masters) > 0 {
			candidates = t.masters
		} else {
			candidates = t.slaves
		}
	}
	if len(candidates) == 0 {
		return nil, "", errNoServerAvailable
	}
	addr := candidates[0]
	return t.servers[addr].conn, addr, nil
}

// connTo returns the Conn already established for addr, for getMore
// and killCursors calls that must stay pinned to the server the cursor
// was opened on.
func (t *topology) connTo(ctx context.Context, addr string) (Conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	srv, ok := t.servers[addr]
	if !ok {
		return nil, errServerGone
	}
	return srv.conn, nil
}

func (t *topology) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, srv := range t.servers {
		srv.conn.Close()
	}
	t.servers = map[string]*topologyServer{}
	t.masters, t.slaves = nil, nil
}
