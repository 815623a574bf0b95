// Package dump reads the block-structured text files written by the
// monitoring core: objects.cache, status.log/status.sav and nagios.cfg.
package dump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nagimport/ocimp/internal/objects"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("dump syntax error")

const maxLineSize = 16 * 1024 * 1024

// Event is one finished block. Boundary is set when its type differs from
// the type of the previous block.
type Event struct {
	Record   *objects.Record
	Boundary bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithBlockHook registers fn to run when a block header has been read and
// before any of the block's attributes are parsed.
func WithBlockHook(fn func(t objects.Type, line int) error) Option {
	return func(p *Parser) { p.onBlock = fn }
}

// WithAttributeFilter drops attributes for which keep returns false. The
// filter sees converted attribute names.
func WithAttributeFilter(keep func(t objects.Type, key string) bool) Option {
	return func(p *Parser) { p.keep = keep }
}

// WithTimeperiodColumns sets the timeperiod attributes stored as columns.
// Any other timeperiod attribute goes to the custom bag.
func WithTimeperiodColumns(cols map[string]bool) Option {
	return func(p *Parser) { p.tpColumns = cols }
}

// Parser is a streaming reader of object blocks.
type Parser struct {
	sc        *bufio.Scanner
	line      int
	last      objects.Type
	started   bool
	onBlock   func(objects.Type, int) error
	keep      func(objects.Type, string) bool
	tpColumns map[string]bool
}

func NewParser(r io.Reader, opts ...Option) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	sc.Split(scanAnyLines)
	p := &Parser{sc: sc}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Line returns the number of the last line read.
func (p *Parser) Line() int { return p.line }

// Next returns the next finished block. It returns io.EOF after the last one.
func (p *Parser) Next() (Event, error) {
	var rec *objects.Record

	for p.sc.Scan() {
		p.line++
		line := strings.TrimSpace(p.sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		if rec == nil {
			t, err := p.header(line)
			if err != nil {
				return Event{}, err
			}
			if p.onBlock != nil {
				if err := p.onBlock(t, p.line); err != nil {
					return Event{}, err
				}
			}
			rec = objects.NewRecord(t)
			rec.Line = p.line
			continue
		}

		if line == "}" {
			ev := Event{Record: rec, Boundary: !p.started || rec.Type != p.last}
			p.started = true
			p.last = rec.Type
			return ev, nil
		}

		p.attribute(rec, line)
	}
	if err := p.sc.Err(); err != nil {
		return Event{}, fmt.Errorf("read dump at line %d: %w", p.line, err)
	}
	if rec != nil {
		return Event{}, fmt.Errorf("%w: %s block opened at line %d is never closed", ErrSyntax, rec.Type, rec.Line)
	}
	return Event{}, io.EOF
}

// header parses "define host {", "hoststatus {" and the like.
func (p *Parser) header(line string) (objects.Type, error) {
	fields := strings.Fields(line)
	if fields[0] == "define" {
		fields = fields[1:]
	}
	if len(fields) == 0 || fields[0] == "{" || fields[0] == "}" {
		return "", fmt.Errorf("%w: line %d: expected block header, got %q", ErrSyntax, p.line, line)
	}
	t, _ := objects.Canonical(strings.TrimSuffix(fields[0], "{"))
	return t, nil
}

func (p *Parser) attribute(rec *objects.Record, line string) {
	key, value := line, ""
	if i := strings.IndexAny(line, "\t="); i >= 0 {
		key, value = line[:i], line[i+1:]
	}
	key = strings.TrimSpace(key)
	value = strings.TrimLeft(value, " \t")

	key, ok := objects.ConvertAttr(rec.Type, key)
	if !ok || key == "" {
		return
	}
	if p.keep != nil && !p.keep(rec.Type, key) {
		return
	}

	// A key without a value undoes whatever a template set.
	if value == "" {
		rec.Clear(key)
		return
	}

	if strings.HasPrefix(key, "_") || (rec.Type == objects.Timeperiod && p.tpColumns != nil && !p.tpColumns[key]) {
		rec.SetCustom(key, value)
		return
	}
	rec.Set(key, value)
}

// scanAnyLines is bufio.ScanLines that also accepts a lone \r as a line end.
func scanAnyLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Peek returns the type of the first block in r without parsing further.
func Peek(r io.Reader) (objects.Type, error) {
	p := NewParser(r)
	for p.sc.Scan() {
		p.line++
		line := strings.TrimSpace(p.sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		return p.header(line)
	}
	if err := p.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
