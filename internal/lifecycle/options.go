package lifecycle

import (
	"strconv"
	"strings"
)

const (
	// DefaultThreads is used when the thread count is missing or invalid.
	DefaultThreads = 50
	// DefaultTimeoutMS is used when the timeout is missing or invalid.
	DefaultTimeoutMS = 1000
	// DebugFlag is appended to the scan arguments in debug mode.
	DebugFlag = "--debug"
)

// Options is the configuration snapshot of one session.
type Options struct {
	Threads   int      `json:"threads" yaml:"threads"`
	TimeoutMS int      `json:"timeout_ms" yaml:"timeout_ms"`
	Ranges    []string `json:"ranges" yaml:"ranges"`
	Debug     bool     `json:"debug" yaml:"debug"`
}

// Normalize applies defaults to non-positive numbers and drops blank
// ranges. The returned value shares no memory with o.
func (o Options) Normalize() Options {
	out := Options{
		Threads:   o.Threads,
		TimeoutMS: o.TimeoutMS,
		Debug:     o.Debug,
	}
	if out.Threads <= 0 {
		out.Threads = DefaultThreads
	}
	if out.TimeoutMS <= 0 {
		out.TimeoutMS = DefaultTimeoutMS
	}
	for _, r := range o.Ranges {
		if r = strings.TrimSpace(r); r != "" {
			out.Ranges = append(out.Ranges, r)
		}
	}
	return out
}

// ParseOptions builds options from operator text input. Non-numeric or
// non-positive thread counts and timeouts fall back to the defaults.
func ParseOptions(threads, timeoutMS string, ranges []string, debug bool) Options {
	return Options{
		Threads:   parsePositive(threads, DefaultThreads),
		TimeoutMS: parsePositive(timeoutMS, DefaultTimeoutMS),
		Ranges:    ranges,
		Debug:     debug,
	}.Normalize()
}

func parsePositive(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Args returns the positional arguments of the scan script:
// <threads> <timeout-ms> <range>... [--debug].
func (o Options) Args() []string {
	args := make([]string, 0, len(o.Ranges)+3)
	args = append(args, strconv.Itoa(o.Threads), strconv.Itoa(o.TimeoutMS))
	args = append(args, o.Ranges...)
	if o.Debug {
		args = append(args, DebugFlag)
	}
	return args
}
