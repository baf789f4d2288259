package nyxdb

import (
	"io"

	"github.com/sirupsen/logrus"
)

// log.go replaces the teacher's hand-rolled SetLogger/SetDebug globals
// (a package-level *log.Logger plumbed through log/logln/logf/debug...)
// with a logrus.FieldLogger attached per Client, matching how the rest
// of the pack does structured logging (juju-juju, openshift-origin and
// VictoriaMetrics-VictoriaMetrics all depend on logrus). A Client with
// no logger configured gets a discard logger, so the module stays
// silent by default instead of requiring a global SetLogger call before
// anything will run.

var discardLoggerInstance logrus.FieldLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func discardLogger() logrus.FieldLogger {
	return discardLoggerInstance
}
