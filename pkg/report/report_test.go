package report

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/pathauditor/pkg/fileevent"
)

func TestReporter_InsecureAccessLogsExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	r := New(logger)
	ev := fileevent.New(fileevent.SysOpen, []uint64{0, 0}, []string{"/tmp/foo"})
	r.InsecureAccess("open", ev, CallerInfo{Cmdline: "cat /tmp/foo", UID: 1000})

	out := buf.String()
	assert.Contains(t, out, "InsecureAccess")
	assert.Contains(t, out, "function=open")
	assert.Contains(t, out, "cmdline=\"cat /tmp/foo\"")
	assert.Contains(t, out, "uid=1000")
}

func TestReporter_CannotAuditLogsError(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	r := New(logger)
	r.CannotAudit(errors.New("ioctl failed"))

	out := buf.String()
	assert.Contains(t, out, "Cannot audit")
	assert.Contains(t, out, "ioctl failed")
}

func TestReporter_TestModeRedirectsToStderrMarker(t *testing.T) {
	require.NoError(t, os.Setenv(testEnvVar, "1"))
	defer os.Unsetenv(testEnvVar)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // must not receive anything in test mode

	r := New(logger)
	ev := fileevent.New(fileevent.SysOpen, []uint64{0, 0}, []string{"/tmp/foo"})

	old := os.Stderr
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = wr
	r.InsecureAccess("open", ev, CallerInfo{})
	wr.Close()
	os.Stderr = old

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rd)
	require.NoError(t, err)
	assert.Equal(t, "AUDITING:open\n", buf.String())
}

func TestFormat_CEFSortsFieldsDeterministically(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&cefFormatter{})

	r := New(logger)
	ev := fileevent.New(fileevent.SysOpen, []uint64{0, 0}, []string{"/tmp/foo"})
	r.InsecureAccess("open", ev, CallerInfo{UID: 1000})

	out := buf.String()
	assert.Contains(t, out, "CEF:0|google|pathauditor|1|")
	assert.True(t,
		indexOf(out, "cmdline=") < indexOf(out, "correlation_id=") &&
			indexOf(out, "correlation_id=") < indexOf(out, "event=") &&
			indexOf(out, "event=") < indexOf(out, "function="),
		"CEF extension fields must be sorted alphabetically: %s", out)
}

func TestNewWithFormatTo_WritesToGivenDestination(t *testing.T) {
	var buf bytes.Buffer
	r := NewWithFormatTo(FormatJSON, &buf)
	ev := fileevent.New(fileevent.SysOpen, []uint64{0, 0}, []string{"/tmp/foo"})
	r.InsecureAccess("open", ev, CallerInfo{UID: 1000})

	assert.Contains(t, buf.String(), `"function":"open"`)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
