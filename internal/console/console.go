// Package console runs the line-oriented operator protocol over a terminal
// or a serial port.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/cjeanneret/stepcal/internal/debug"
	"github.com/cjeanneret/stepcal/internal/logic/command"
)

const MaxLineLength = command.MaxLineLength

var ErrInputTooLong = command.ErrInputTooLong

// Handler executes one command line and writes its response.
type Handler interface {
	Handle(line string, w io.Writer) error
}

// LineReader splits input on \n, \r or \r\n and enforces MaxLineLength.
type LineReader struct {
	r       *bufio.Reader
	afterCR bool
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// ReadLine returns the next line without its terminator. Over-long lines are
// consumed up to their terminator and reported as ErrInputTooLong; empty
// lines as command.ErrEmptyInput. At end of input it returns io.EOF (a final
// unterminated line is returned first).
func (lr *LineReader) ReadLine() (string, error) {
	buf := make([]byte, 0, MaxLineLength)
	tooLong := false
	for {
		b, err := lr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				return lr.finish(buf, tooLong)
			}
			return "", err
		}

		if b == '\n' && lr.afterCR {
			// Second half of a CRLF pair.
			lr.afterCR = false
			continue
		}
		lr.afterCR = b == '\r'
		if b == '\r' || b == '\n' {
			return lr.finish(buf, tooLong)
		}

		if len(buf) >= MaxLineLength {
			tooLong = true
			continue
		}
		buf = append(buf, b)
	}
}

func (lr *LineReader) finish(buf []byte, tooLong bool) (string, error) {
	if tooLong {
		return "", ErrInputTooLong
	}
	if len(buf) == 0 {
		return "", command.ErrEmptyInput
	}
	return string(buf), nil
}

// Console reads commands and writes CRLF-terminated responses.
type Console struct {
	in      *LineReader
	out     io.Writer
	handler Handler
	errOut  *color.Color
}

// Options configures a Console.
type Options struct {
	Color bool // colourise error lines (interactive terminals only)
}

func New(in io.Reader, out io.Writer, h Handler, opts Options) *Console {
	errOut := color.New(color.FgRed, color.Bold)
	if opts.Color {
		errOut.EnableColor()
	} else {
		errOut.DisableColor()
	}
	return &Console{
		in:      NewLineReader(in),
		out:     out,
		handler: h,
		errOut:  errOut,
	}
}

// Run processes commands until the input ends or ctx is cancelled. Command
// errors are reported on the output and never stop the loop. Cancellation is
// only noticed between commands; a running motion finishes first.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan lineResult)
	go c.readLoop(ctx, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-lines:
			if !ok {
				return nil
			}
			if res.err != nil {
				c.reportError(res.err)
				continue
			}
			debug.Live("Console: %q", res.line)
			if err := c.handler.Handle(res.line, c.out); err != nil {
				c.reportError(err)
			}
		}
	}
}

type lineResult struct {
	line string
	err  error
}

// readLoop feeds lines to Run; the reader may block on a port that never
// closes, so it lives in its own goroutine.
func (c *Console) readLoop(ctx context.Context, lines chan<- lineResult) {
	defer close(lines)
	for {
		line, err := c.in.ReadLine()
		if err != nil && !errors.Is(err, ErrInputTooLong) && !errors.Is(err, command.ErrEmptyInput) {
			if !errors.Is(err, io.EOF) {
				debug.Error(fmt.Errorf("console read: %w", err))
			}
			return
		}
		select {
		case lines <- lineResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) reportError(err error) {
	debug.Info("Console: %v", err)
	c.errOut.Fprintf(c.out, "Error: %v%s", err, command.LineEnding)
}
