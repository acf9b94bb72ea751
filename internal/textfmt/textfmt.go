// Package textfmt reads and writes schedules in the plain line format
//
//	YYYY/MM/DD HH:mm -> YYYY/MM/DD HH:mm - <name>
//
// one event per line.
package textfmt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"workcal/internal/model"
)

// Layout is the timestamp layout used on both sides of the arrow.
const Layout = "2006/01/02 15:04"

const (
	arrowSep = " -> "
	nameSep  = " - "
)

var (
	ErrMalformedLine = errors.New("line is not structured correctly")
	ErrBadDate       = errors.New("dates are not formatted correctly")
)

// LineError describes one line that could not be parsed.
type LineError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseError collects every malformed line of an input.
type ParseError struct {
	Lines []*LineError
}

func (e *ParseError) Error() string {
	if len(e.Lines) == 1 {
		return e.Lines[0].Error()
	}
	return fmt.Sprintf("%d malformed lines, first: %v", len(e.Lines), e.Lines[0])
}

func (e *ParseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Lines))
	for _, le := range e.Lines {
		errs = append(errs, le)
	}
	return errs
}

// ParseLine parses a single line. Timestamps are read as wall-clock times in
// loc (time.Local if nil). The name is everything after the first " - "
// following the end timestamp, so names may contain " - " themselves.
func ParseLine(line string, loc *time.Location) (model.Event, error) {
	if loc == nil {
		loc = time.Local
	}

	rawStart, rest, ok := strings.Cut(line, arrowSep)
	if !ok || rawStart == "" {
		return model.Event{}, ErrMalformedLine
	}
	rawEnd, name, ok := strings.Cut(rest, nameSep)
	if !ok || rawEnd == "" {
		return model.Event{}, ErrMalformedLine
	}

	start, err := time.ParseInLocation(Layout, rawStart, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrBadDate, err)
	}
	end, err := time.ParseInLocation(Layout, rawEnd, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrBadDate, err)
	}

	return model.Event{Name: name, Start: start, End: end}, nil
}

// Parse reads every non-blank line of r. It keeps going past malformed lines
// and, if any were found, returns a *ParseError listing all of them.
func Parse(r io.Reader, loc *time.Location) ([]model.Event, error) {
	var (
		events []model.Event
		bad    []*LineError
	)

	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := ParseLine(line, loc)
		if err != nil {
			bad = append(bad, &LineError{Line: n, Text: line, Err: err})
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(bad) > 0 {
		return nil, &ParseError{Lines: bad}
	}
	return events, nil
}

// FormatLine renders ev in the line format.
func FormatLine(ev model.Event) string {
	return ev.Start.Format(Layout) + arrowSep + ev.End.Format(Layout) + nameSep + ev.Name
}

// Format writes one line per event.
func Format(w io.Writer, events []model.Event) error {
	bw := bufio.NewWriter(w)
	for _, ev := range events {
		if _, err := bw.WriteString(FormatLine(ev) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
