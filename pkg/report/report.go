// Package report turns a classifier outcome into a log record. A positive
// classification produces an "insecure access" warning; a classifier error
// produces a distinct
// "cannot audit" warning. Neither ever changes the value the dispatcher
// returned to its caller — reporting is purely a side effect.
package report

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/google/pathauditor/pkg/fileevent"
)

// testEnvVar, when set, replaces reporting with a one-line marker on
// stderr, for integration tests that only need to confirm a given libc
// entry point was actually audited.
const testEnvVar = "PATHAUDITOR_TEST"

// CallerInfo is the process-identity enrichment attached to a report. It is
// deliberately a plain struct rather than a live lookup: callers (e.g.
// pkg/procenrich) decide how fresh this needs to be.
type CallerInfo struct {
	Cmdline    string
	UID        uint32
	StackTrace string
}

// Reporter emits two warning kinds: an insecure-access finding and a
// cannot-audit error. The zero value is not usable; build one with New.
type Reporter struct {
	log      *logrus.Logger
	testMode bool
}

// New builds a Reporter writing structured records through logger. If
// logger is nil, a default logrus.Logger with a text formatter is used.
func New(logger *logrus.Logger) *Reporter {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	_, testMode := os.LookupEnv(testEnvVar)
	return &Reporter{log: logger, testMode: testMode}
}

// InsecureAccess reports a positive classification for functionName (the
// intercepted libc entry point) against event, enriched with caller.
func (r *Reporter) InsecureAccess(functionName string, event *fileevent.FileEvent, caller CallerInfo) {
	if r.testMode {
		fmt.Fprintf(os.Stderr, "AUDITING:%s\n", functionName)
		return
	}

	id := uuid.New()
	r.log.WithFields(logrus.Fields{
		"correlation_id": id.String(),
		"function":       functionName,
		"syscall":        event.Syscall.String(),
		"event":          event.String(),
		"cmdline":        caller.Cmdline,
		"uid":            caller.UID,
		"stack_trace":    caller.StackTrace,
	}).Warn("InsecureAccess")
}

// CannotAudit reports a classifier or dispatcher error that prevented a
// classification from completing.
func (r *Reporter) CannotAudit(err error) {
	if r.testMode {
		fmt.Fprintf(os.Stderr, "AUDITING_ERROR:%v\n", err)
		return
	}

	id := uuid.New()
	r.log.WithFields(logrus.Fields{
		"correlation_id": id.String(),
		"error":          err.Error(),
	}).Warn("Cannot audit")
}
