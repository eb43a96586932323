// Package mapping writes the per-build log of rewritten strings, for
// debugging and auditing obfuscated builds.
package mapping

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const headerPrefix = "stringfog impl: "

type entry struct {
	plain, encoded string
}

// Printer collects rewritten strings per class. It is safe for concurrent
// use.
type Printer struct {
	impl, mode string

	mu      sync.Mutex
	classes map[string][]entry
	n       int
}

// New returns a Printer whose header names the cipher and mode of the
// build.
func New(impl, mode string) *Printer {
	return &Printer{impl: impl, mode: mode, classes: make(map[string][]entry)}
}

// Record adds one rewritten string of class.
func (p *Printer) Record(class, plain, encoded string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classes[class] = append(p.classes[class], entry{plain, encoded})
	p.n++
}

// Len returns the number of recorded strings.
func (p *Printer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// WriteTo writes the log: a header line, then one section per class in
// name order, each record in the order it was added.
//
//	stringfog impl: xor, mode: base64
//	[com.app.Main]
//	    "hello" -> "aWdvaGs="
func (p *Printer) WriteTo(w io.Writer) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bw := bufio.NewWriter(w)
	cw := &countWriter{w: bw}
	fmt.Fprintf(cw, headerPrefix+"%s, mode: %s\n", p.impl, p.mode)
	for _, class := range slices.Sorted(maps.Keys(p.classes)) {
		fmt.Fprintf(cw, "[%s]\n", class)
		for _, e := range p.classes[class] {
			fmt.Fprintf(cw, "    %s -> %s\n", strconv.Quote(e.plain), strconv.Quote(e.encoded))
		}
	}
	if err := bw.Flush(); err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

// Flush writes the log to path, replacing it atomically. A log that cannot
// be written never fails the build, so errors are only logged.
func (p *Printer) Flush(path string) {
	if err := p.flush(path); err != nil {
		log.Printf("cannot write mapping file: %v", err)
	}
}

func (p *Printer) flush(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := p.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countWriter) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(b)
	c.n += int64(n)
	c.err = err
	return n, err
}

// ErrSyntax is returned by Parse for text that is not a mapping log.
var ErrSyntax = errors.New("malformed mapping")

// Record is one entry of a parsed log.
type Record struct {
	Class   string
	Plain   string
	Encoded string
}

// File is a parsed log.
type File struct {
	Impl    string
	Mode    string
	Records []Record
}

// Parse reads a log written by WriteTo.
func Parse(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	// Records hold up to a 64 KiB literal, escaped.
	sc.Buffer(nil, 1<<22)
	var f File
	class := ""
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if line == 1 {
			rest, ok := strings.CutPrefix(text, headerPrefix)
			if !ok {
				return nil, fmt.Errorf("%w: line 1: no header", ErrSyntax)
			}
			f.Impl, f.Mode, ok = strings.Cut(rest, ", mode: ")
			if !ok {
				return nil, fmt.Errorf("%w: line 1: no mode", ErrSyntax)
			}
			continue
		}
		switch {
		case text == "":
		case strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"):
			class = text[1 : len(text)-1]
		case strings.HasPrefix(text, "    ") && class != "":
			rec, err := parseRecord(text[4:])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, line, err)
			}
			rec.Class = class
			f.Records = append(f.Records, rec)
		default:
			return nil, fmt.Errorf("%w: line %d: unexpected %q", ErrSyntax, line, text)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if line == 0 {
		return nil, fmt.Errorf("%w: empty", ErrSyntax)
	}
	return &f, nil
}

func parseRecord(s string) (Record, error) {
	var rec Record
	q, err := strconv.QuotedPrefix(s)
	if err != nil {
		return rec, err
	}
	if rec.Plain, err = strconv.Unquote(q); err != nil {
		return rec, err
	}
	rest, ok := strings.CutPrefix(s[len(q):], " -> ")
	if !ok {
		return rec, errors.New("missing arrow")
	}
	if rec.Encoded, err = strconv.Unquote(rest); err != nil {
		return rec, err
	}
	return rec, nil
}
