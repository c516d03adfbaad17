// Package nlog is a trimmed-down logger in the style of aistore's cmn/nlog:
// printf-style, severity-tagged, buffered, safe for concurrent use. Unlike
// the teacher's full version it does not rotate files -- nothing in this
// module runs long enough as a daemon to need rotation, so that machinery
// was left behind in the teacher's own tree rather than carried here unused.
/*
 * adapted
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
	bw            = bufio.NewWriter(out)
)

// SetOutput redirects all subsequent log lines; nil restores stderr. Any
// lines buffered for the previous output are flushed first so they aren't
// lost on the switch.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	bw.Flush()
	if w == nil {
		w = os.Stderr
	}
	out = w
	bw = bufio.NewWriter(out)
}

// Flush writes any buffered log lines out to the current output; callers
// that exit the process (cmd/streamload's main, in particular) must call
// this first or trailing lines can be lost, same as the teacher's own
// nlog.Flush() contract.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	bw.Flush()
}

func Infof(format string, args ...any)    { logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, args...) }
func Warningf(format string, args ...any) { logf(sevWarn, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { logf(sevErr, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, args...) }

func logf(sev severity, format string, args ...any) {
	write(sev, fmt.Sprintf(format, args...))
}

func logln(sev severity, args ...any) {
	write(sev, fmt.Sprintln(args...))
}

func write(sev severity, msg string) {
	const char = "IWE"
	_, fn, ln, ok := runtime.Caller(2)
	if ok {
		if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
			fn = fn[idx+1:]
		}
	}
	var b strings.Builder
	b.WriteByte(char[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if ok {
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	if !strings.HasSuffix(msg, "\n") {
		b.WriteByte('\n')
	}

	mu.Lock()
	io.WriteString(bw, b.String())
	if sev >= sevWarn {
		bw.Flush()
	}
	mu.Unlock()
}
