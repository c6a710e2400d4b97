// Package logfmt is a compact logrus text formatter with colored levels:
//
//	15:04:05.000 INFO request handled  addr=127.0.0.1:4242 method=echo
package logfmt

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "15:04:05.000"

var levelColors = map[logrus.Level]*color.Color{
	logrus.TraceLevel: color.New(color.FgHiBlack),
	logrus.DebugLevel: color.New(color.FgCyan),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
}

// Formatter implements logrus.Formatter.
type Formatter struct {
	TimestampFormat string
	// DisableColors forces plain output. Colors are also off whenever
	// color.NoColor is set, which fatih/color does for non-terminals.
	DisableColors bool
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	format := f.TimestampFormat
	if format == "" {
		format = defaultTimestampFormat
	}
	b.WriteString(entry.Time.Format(format))
	b.WriteByte(' ')

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	if c, ok := levelColors[entry.Level]; ok && !f.DisableColors && !color.NoColor {
		level = c.Sprint(level)
	}
	b.WriteString(level)
	b.WriteByte(' ')

	if entry.HasCaller() {
		fmt.Fprintf(b, "%s:%d ", path.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
