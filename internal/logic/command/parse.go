package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength is the longest accepted command line, terminator excluded.
const MaxLineLength = 200

var (
	ErrEmptyInput      = errors.New("empty input")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInputTooLong    = fmt.Errorf("input too long (max %d characters)", MaxLineLength)
)

// Kind identifies one of the operator commands.
type Kind int

const (
	Status Kind = iota
	Calibrate
	Run
)

func (k Kind) String() string {
	switch k {
	case Status:
		return "status"
	case Calibrate:
		return "calib"
	case Run:
		return "run"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is a parsed operator line.
type Command struct {
	Kind Kind
	// Eighths is the run distance in eighths of a revolution; only
	// meaningful when HasArg is set.
	Eighths uint32
	HasArg  bool
}

// Parse reads one command line. The grammar is strict: a command word,
// optionally followed by exactly one space and an argument. Anything that
// does not match, including "run" with a malformed argument, is an error
// and must not be treated as "argument omitted".
func Parse(line string) (Command, error) {
	if line == "" {
		return Command{}, ErrEmptyInput
	}
	if len(line) > MaxLineLength {
		return Command{}, ErrInputTooLong
	}

	word, arg, hasArg := strings.Cut(line, " ")

	var cmd Command
	switch word {
	case "status":
		cmd.Kind = Status
	case "calib":
		cmd.Kind = Calibrate
	case "run":
		cmd.Kind = Run
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, word)
	}

	if !hasArg {
		return cmd, nil
	}
	if cmd.Kind != Run {
		return Command{}, fmt.Errorf("%w: %s takes no argument", ErrInvalidArgument, word)
	}

	n, ok := ParseRunArgument(arg)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q is not a number of eighths", ErrInvalidArgument, arg)
	}
	cmd.Eighths = n
	cmd.HasArg = true
	return cmd, nil
}

// ParseRunArgument accepts a plain decimal number of eighths: digits only,
// no sign or spaces, no leading zero, and small enough for uint32. "0" on
// its own is valid.
func ParseRunArgument(text string) (uint32, bool) {
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	if text[0] == '0' && len(text) > 1 {
		return 0, false
	}
	n, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
