package regexcache

import (
	"fmt"
	"regexp"
)

// Program is a compiled pattern handed back by an Engine. It is the "engine
// handle (opaque, owns native memory)" spec.md §3 describes; the cache never
// looks inside it, only calls MatchString, SizeBytes, and (at most once)
// Close.
type Program interface {
	// MatchString reports whether s matches the compiled pattern.
	MatchString(s string) bool

	// SizeBytes is the program's accounted memory footprint, used for the
	// Pattern Cache's byte-budgeted LRU (spec.md §4.2).
	SizeBytes() uint64

	// Close releases any native resources backing the program. The cache
	// calls it at most once per program: when it removes a zero-refcount
	// pattern, or, with the cache disabled, on the Release that drops the
	// refcount to zero.
	Close()
}

// Engine compiles pattern strings into Programs. The core treats it as an
// external collaborator (spec.md §1) — StdlibEngine is the shipped
// implementation, wrapping Go's RE2-based regexp package, but any Engine
// satisfying this contract (including a future cgo-backed native engine)
// plugs into the Pattern Cache unchanged.
type Engine interface {
	Compile(pattern string, caseSensitive bool) (Program, error)
}

// StdlibEngine compiles patterns with the standard library's regexp package.
// Case-insensitive patterns are compiled with a "(?i)" prefix, matching the
// idiom the teacher's regex engine wrapper used for the same purpose.
type StdlibEngine struct{}

// NewStdlibEngine returns the default Engine implementation.
func NewStdlibEngine() *StdlibEngine { return &StdlibEngine{} }

func (StdlibEngine) Compile(pattern string, caseSensitive bool) (Program, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	full := pattern
	if !caseSensitive {
		full = "(?i)" + pattern
	}

	re, err := regexp.Compile(full)
	if err != nil {
		return nil, err
	}

	return &stdlibProgram{re: re, size: estimateProgramSize(pattern)}, nil
}

// estimateProgramSize approximates a compiled program's byte footprint.
// regexp.Regexp does not expose its internal instruction count, so this
// scales the source pattern length by a constant that roughly matches RE2's
// typical bytes-per-instruction; this approximation is isolated entirely
// inside StdlibEngine and never leaks into cache accounting logic, which
// only ever calls Program.SizeBytes().
func estimateProgramSize(pattern string) uint64 {
	const baseOverhead = 128
	const bytesPerPatternByte = 24
	return uint64(baseOverhead + len(pattern)*bytesPerPatternByte)
}

type stdlibProgram struct {
	re   *regexp.Regexp
	size uint64
}

func (p *stdlibProgram) MatchString(s string) bool { return p.re.MatchString(s) }
func (p *stdlibProgram) SizeBytes() uint64          { return p.size }
func (p *stdlibProgram) Close()                     {}
