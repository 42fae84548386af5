// Package mlog provides logging with log levels and fields.
//
// Each log level has a function to log with and without error. Each such
// function takes a varargs list of fields (key value pairs) to log. Variable
// data should be in fields. Logging strings themselves should be constant,
// for easier log processing.
//
// Log levels are configured application-global, per originating package, with
// the empty string as fallback.
package mlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type Level int

const (
	LevelPrint Level = 0 // Printed regardless of configured log level.
	LevelFatal Level = 1 // Printed regardless of configured log level.
	LevelError Level = 2
	LevelInfo  Level = 3
	LevelDebug Level = 4
)

var LevelStrings = map[Level]string{
	LevelPrint: "print",
	LevelFatal: "fatal",
	LevelError: "error",
	LevelInfo:  "info",
	LevelDebug: "debug",
}

var Levels = map[string]Level{
	"print": LevelPrint,
	"fatal": LevelFatal,
	"error": LevelError,
	"info":  LevelInfo,
	"debug": LevelDebug,
}

// Holds a map[string]Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Value

func init() {
	config.Store(map[string]Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]Level) {
	config.Store(c)
}

// Pair is a field/value pair, for use in logged lines.
type Pair struct {
	key   string
	value any
}

// Field is a shorthand for making a Pair.
func Field(k string, v any) Pair {
	return Pair{k, v}
}

// Log is an instance potentially with its own field/value pairs added to any
// logging output.
type Log struct {
	fields []Pair
}

// New returns a new Log instance. Each log invocation adds field "pkg".
func New(pkg string) *Log {
	return &Log{
		fields: []Pair{{"pkg", pkg}},
	}
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for logging.
var CidKey key = "cid"

// WithCid adds a field "cid".
func (l *Log) WithCid(cid int64) *Log {
	return l.Fields(Pair{"cid", cid})
}

// WithContext adds cid from context, if present. Contexts are often passed
// between packages to carry a "cid" for an operation.
func (l *Log) WithContext(ctx context.Context) *Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	cid := cidv.(int64)
	return l.WithCid(cid)
}

// Fields adds fields to the logger. Each logged line adds these fields.
func (l *Log) Fields(fields ...Pair) *Log {
	nl := *l
	nl.fields = append(fields, nl.fields...)
	return &nl
}

func (l *Log) Fatal(text string, fields ...Pair) { l.Fatalx(text, nil, fields...) }
func (l *Log) Fatalx(text string, err error, fields ...Pair) {
	l.plog(LevelFatal, err, text, fields...)
	os.Exit(1)
}

func (l *Log) Print(text string, fields ...Pair) bool {
	return l.logx(LevelPrint, nil, text, fields...)
}
func (l *Log) Printx(text string, err error, fields ...Pair) bool {
	return l.logx(LevelPrint, err, text, fields...)
}

func (l *Log) Debug(text string, fields ...Pair) bool {
	return l.logx(LevelDebug, nil, text, fields...)
}
func (l *Log) Debugx(text string, err error, fields ...Pair) bool {
	return l.logx(LevelDebug, err, text, fields...)
}

func (l *Log) Info(text string, fields ...Pair) bool { return l.logx(LevelInfo, nil, text, fields...) }
func (l *Log) Infox(text string, err error, fields ...Pair) bool {
	return l.logx(LevelInfo, err, text, fields...)
}

func (l *Log) Error(text string, fields ...Pair) bool {
	return l.logx(LevelError, nil, text, fields...)
}
func (l *Log) Errorx(text string, err error, fields ...Pair) bool {
	return l.logx(LevelError, err, text, fields...)
}

// Check logs an error at error level if err is not nil. Convenient for
// deferred cleanup calls whose errors should not be dropped silently.
func (l *Log) Check(err error, text string, fields ...Pair) {
	if err != nil {
		l.Errorx(text, err, fields...)
	}
}

func (l *Log) logx(level Level, err error, text string, fields ...Pair) bool {
	if !l.match(level) {
		return false
	}
	l.plog(level, err, text, fields...)
	return true
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(iscid bool, v any) string {
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		if iscid {
			return fmt.Sprintf("%x", v)
		}
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case time.Time:
		return r.Format(time.RFC3339)
	case []string:
		return "[" + strings.Join(r, ",") + "]"
	}
	if r, ok := v.(fmt.Stringer); ok {
		return r.String()
	}
	return fmt.Sprintf("%v", v)
}

func (l *Log) plog(level Level, err error, text string, fields ...Pair) {
	fields = append(l.fields, fields...)
	// Build up a buffer to do a single write, preventing interleaved partial lines.
	b := &bytes.Buffer{}
	fmt.Fprintf(b, "l=%s m=%s", LevelStrings[level], logfmtValue(text))
	if err != nil {
		fmt.Fprintf(b, " err=%s", logfmtValue(err.Error()))
	}
	for _, kv := range fields {
		fmt.Fprintf(b, " %s=%s", kv.key, logfmtValue(stringValue(kv.key == "cid", kv.value)))
	}
	b.WriteString("\n")
	os.Stderr.Write(b.Bytes())
}

func (l *Log) match(level Level) bool {
	if level == LevelPrint || level == LevelFatal {
		return true
	}

	cl := config.Load().(map[string]Level)

	for _, kv := range l.fields {
		if kv.key != "pkg" {
			continue
		}
		pkg, ok := kv.value.(string)
		if !ok {
			continue
		}
		if v, ok2 := cl[pkg]; ok2 {
			return v >= level
		}
	}
	v, ok := cl[""]
	return ok && v >= level
}

type errWriter struct {
	log   *Log
	level Level
	msg   string
}

func (w *errWriter) Write(buf []byte) (int, error) {
	err := errors.New(strings.TrimSpace(string(buf)))
	w.log.logx(w.level, err, w.msg)
	return len(buf), nil
}

// ErrWriter returns a writer that turns each write into a logging call on
// "log" with given "level" and "msg" and the written content as an error. Can
// be used for making a Go log.Logger for use in http.Server.ErrorLog.
func ErrWriter(log *Log, level Level, msg string) io.Writer {
	return &errWriter{log, level, msg}
}
