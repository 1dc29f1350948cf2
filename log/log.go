package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/kvdataset/siser"
	"github.com/toon-format/toon-go"
)

var (
	log       *WriteDaily
	eventsLog *WriteDaily

	// if true, Verbosef() will log messages
	Verbose bool

	// where Logf() prints, os.Stdout by default
	Out io.Writer = os.Stdout
	// where Errorf() prints, os.Stderr by default
	ErrOut io.Writer = os.Stderr
	mu     sync.Mutex
)

// WriteDaily appends to a file named after the current day (YYYY-MM-DD.txt)
type WriteDaily struct {
	Dir         string
	currentDate int // YYYYMMDD format
	file        *os.File
	mu          sync.Mutex
}

func NewWriteDaily(dir string) *WriteDaily {
	return &WriteDaily{
		Dir: dir,
	}
}

// dayFromTime converts a time.Time to YYYYMMDD integer format
func dayFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func (w *WriteDaily) writer(now time.Time) (io.Writer, error) {
	today := dayFromTime(now)
	if w.file != nil && w.currentDate != today {
		if err := w.close(); err != nil {
			return nil, err
		}
	}
	if w.file != nil {
		return w.file, nil
	}

	path := filepath.Join(w.Dir, now.Format("2006-01-02")+".txt")
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w.file = f
	w.currentDate = today
	return f, nil
}

// Write writes data to today's log file.
// It's a no-op on nil receiver
func (w *WriteDaily) Write(d []byte) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	wr, err := w.writer(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = wr.Write(d)
	return err
}

func (w *WriteDaily) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.currentDate = 0
	return err
}

// Close closes the daily log file.
// It's safe to call on nil receiver
func (w *WriteDaily) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Sync()
	}
	return w.close()
}

type Config struct {
	// directory where log files are stored
	// regular logs go to "log" sub-directory, events to "events"
	Dir string
}

// Init enables writing logs to files in config.Dir.
// Without Init we only log to Out
func Init(config *Config) {
	mu.Lock()
	defer mu.Unlock()
	closeLogs()
	if config == nil || config.Dir == "" {
		return
	}
	log = NewWriteDaily(filepath.Join(config.Dir, "log"))
	eventsLog = NewWriteDaily(filepath.Join(config.Dir, "events"))
}

func closeLogs() {
	_ = log.Close()
	_ = eventsLog.Close()
	log = nil
	eventsLog = nil
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLogs()
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(Out, s)
	_ = log.Write([]byte(s))
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		s := frame.File + ":" + strconv.Itoa(frame.Line)
		cs = append(cs, s)
		if !more {
			break
		}
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf prints an error message to ErrOut and writes it, along with
// the callstack, to the log file
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	cs := GetCallstack(1)
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(ErrOut, s)
	_ = log.Write([]byte(s + "\n" + cs + "\n"))
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err)
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}

// simpleTypeToStr converts simple types to string
// panics if v is of complex type
func simpleTypeToStr(v any) string {
	rt := reflect.TypeOf(v)
	kind := rt.Kind()
	switch kind {
	case reflect.Array, reflect.Slice, reflect.Struct, reflect.Map, reflect.Chan, reflect.Interface, reflect.Pointer:
		panic(fmt.Sprintf("toStr: value is of kind %v", kind))
	case reflect.String:
		return v.(string)
	}
	return fmt.Sprintf("%v", v)
}

// MarshalEvent serializes an event as a siser record with toon encoded
// values as data
func MarshalEvent(name string, t time.Time, vals ...any) ([]byte, error) {
	n := len(vals)
	if n%2 != 0 {
		return nil, fmt.Errorf("odd number of values (%d) for event '%s'", n, name)
	}
	var d []byte
	if n > 0 {
		m := map[string]any{}
		for i := 0; i < n; i += 2 {
			k := simpleTypeToStr(vals[i])
			m[k] = vals[i+1]
		}
		var err error
		d, err = toon.Marshal(m)
		if err != nil {
			return nil, err
		}
	}
	return siser.MarshalLine(name, t, d, nil), nil
}

// Event records a structured event in the events log, e.g.
// Event("flush", "batch", 3, "records", 1000)
// It's a no-op if Init() wasn't called with a directory
func Event(name string, vals ...any) {
	mu.Lock()
	defer mu.Unlock()
	if eventsLog == nil {
		return
	}
	d, err := MarshalEvent(name, time.Now().UTC(), vals...)
	if err != nil {
		fmt.Fprintf(Out, "log.Event: %s\n", err)
		return
	}
	_ = eventsLog.Write(d)
}

// EventWithDuration is Event with "durms" set to duration in milliseconds
func EventWithDuration(name string, dur time.Duration, vals ...any) {
	vals = append(vals, "durms", dur.Milliseconds())
	Event(name, vals...)
}
