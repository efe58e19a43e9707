package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
)

// Format selects the on-wire shape of a report: text, JSON, or CEF,
// expressed as logrus formatters instead of hand-built strings.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatCEF
)

// NewWithFormat builds a Reporter whose underlying logger uses the given
// format, writing to logrus's default output (stderr).
func NewWithFormat(format Format) *Reporter {
	return NewWithFormatTo(format, nil)
}

// NewWithFormatTo is NewWithFormat with an explicit output writer. A nil
// dest leaves logrus.Logger's own default (stderr) in place.
func NewWithFormatTo(format Format, dest io.Writer) *Reporter {
	logger := logrus.New()
	switch format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case FormatCEF:
		logger.SetFormatter(&cefFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if dest != nil {
		logger.SetOutput(dest)
	}
	return New(logger)
}

// cefFormatter renders a logrus.Entry as a single Common Event Format line:
// CEF:Version|Device Vendor|Device Product|Device Version|Signature
// ID|Name|Severity|Extension
type cefFormatter struct{}

func (f *cefFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "CEF:0|google|pathauditor|1|%s|%s|5|", entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%s=%v", k, entry.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
