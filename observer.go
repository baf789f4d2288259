package nyxdb

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/mgo.v2/bson"
)

// observer.go is the command-monitor collaborator spec.md §9 calls for
// under "control inversion in APM callbacks": the source observes
// commands in tests through callback structs with mutable context; here
// that becomes a single interface, method per command phase, with zero
// or more observers hung off a Client rather than a global table.
type Observer interface {
	Started(CommandStartedEvent)
	Succeeded(CommandSucceededEvent)
	Failed(CommandFailedEvent)
}

// CommandStartedEvent is emitted once per command driverCursor.run
// dispatches, before the write. RequestID correlates it with the matching Succeeded/Failed
// event the same way APM command-monitoring events do in the driver
// family this module is drawn from.
type CommandStartedEvent struct {
	RequestID   uuid.UUID
	Database    string
	CommandName string
	Command     bson.D
}

type CommandSucceededEvent struct {
	RequestID   uuid.UUID
	CommandName string
	Duration    time.Duration
	Reply       bson.Raw
}

type CommandFailedEvent struct {
	RequestID   uuid.UUID
	CommandName string
	Duration    time.Duration
	Err         error
}

func commandName(cmd bson.D) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0].Name
}

func notifyStarted(observers []Observer, ev CommandStartedEvent) {
	for _, o := range observers {
		o.Started(ev)
	}
}

func notifySucceeded(observers []Observer, ev CommandSucceededEvent) {
	for _, o := range observers {
		o.Succeeded(ev)
	}
}

func notifyFailed(observers []Observer, ev CommandFailedEvent) {
	for _, o := range observers {
		o.Failed(ev)
	}
}
