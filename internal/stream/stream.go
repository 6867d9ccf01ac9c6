// Package stream reads one output stream of the scan process line by line
// and classifies every line for the session handler.
package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/livescan/internal/metrics"
	"github.com/anstrom/livescan/internal/protocol"
)

// Kind names the output stream a reader consumes.
type Kind string

const (
	Stdout Kind = "stdout"
	Stderr Kind = "stderr"
)

// Class is the classification of one output line.
type Class string

const (
	// ClassRecord lines carry the record sentinel and go to the parser.
	ClassRecord Class = "record"
	// ClassInfo lines are free-form progress text.
	ClassInfo Class = "info"
	// ClassError lines come from standard error.
	ClassError Class = "error"
)

// StderrPrefix tags lines read from standard error.
const StderrPrefix = "[STDERR] "

const (
	// maxLineSize bounds a single output line. Longer lines are skipped.
	maxLineSize    = 1024 * 1024
	readBufferSize = 64 * 1024
)

// ErrLineTooLong is reported for each skipped line longer than maxLineSize.
var ErrLineTooLong = errors.New("line longer than 1 MiB skipped")

// Line is a classified output line. Text is the trimmed line, tagged with
// StderrPrefix for standard error.
type Line struct {
	Kind  Kind
	Class Class
	Text  string
}

// Classify decides how a trimmed, non-empty line is handled.
func Classify(kind Kind, text string) Line {
	switch {
	case kind == Stderr:
		return Line{Kind: kind, Class: ClassError, Text: StderrPrefix + text}
	case protocol.IsRecord(text):
		return Line{Kind: kind, Class: ClassRecord, Text: text}
	default:
		return Line{Kind: kind, Class: ClassInfo, Text: text}
	}
}

// Handler receives classified lines and read failures.
type Handler interface {
	HandleLine(Line)
	HandleError(Kind, error)
}

// Reader consumes one stream on its own goroutine.
type Reader struct {
	kind    Kind
	src     io.ReadCloser
	active  func() bool
	handler Handler
	metrics metrics.Collector
	done    chan struct{}
	once    sync.Once
}

// NewReader creates a reader. active is polled between reads; when it
// returns false the reader stops.
func NewReader(kind Kind, src io.ReadCloser, active func() bool, handler Handler, collector metrics.Collector) *Reader {
	if active == nil {
		active = func() bool { return true }
	}
	return &Reader{
		kind:    kind,
		src:     src,
		active:  active,
		handler: handler,
		metrics: metrics.OrNop(collector),
		done:    make(chan struct{}),
	}
}

// Kind returns the stream this reader consumes.
func (r *Reader) Kind() Kind {
	return r.kind
}

// Start runs the read loop in a new goroutine.
func (r *Reader) Start() {
	go r.Run()
}

// Run reads until end of stream, a read error, or the active flag clearing.
// A line over the size limit is skipped and reported, and reading goes on.
// The source is closed on every exit path.
func (r *Reader) Run() {
	r.once.Do(func() {
		defer close(r.done)
		defer r.src.Close()

		br := bufio.NewReaderSize(r.src, readBufferSize)
		var buf []byte
		oversize := false

		for r.active() {
			chunk, isPrefix, err := br.ReadLine()
			if err != nil {
				if !errors.Is(err, io.EOF) && r.active() {
					r.handler.HandleError(r.kind, err)
				}
				return
			}
			if !oversize {
				if len(buf)+len(chunk) > maxLineSize {
					oversize = true
					buf = buf[:0]
				} else {
					buf = append(buf, chunk...)
				}
			}
			if isPrefix {
				continue
			}
			if !r.active() {
				return
			}

			if oversize {
				oversize = false
				r.metrics.IncrementLines(string(r.kind), "oversize")
				r.handler.HandleError(r.kind, ErrLineTooLong)
				continue
			}
			text := strings.TrimSpace(string(buf))
			buf = buf[:0]
			if text == "" {
				continue
			}
			line := Classify(r.kind, text)
			r.metrics.IncrementLines(string(r.kind), string(line.Class))
			r.handler.HandleLine(line)
		}
	})
}

// Done is closed when the read loop has exited.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Join waits up to timeout for every reader to finish. It reports whether
// all of them did; readers still blocked are left to exit on their own.
func Join(timeout time.Duration, readers ...*Reader) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, r := range readers {
		if r == nil {
			continue
		}
		select {
		case <-r.done:
		case <-timer.C:
			return false
		}
	}
	return true
}
