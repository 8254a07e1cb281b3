package protocol

import (
	"strings"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
)

// Commands is the narrow surface the Engine exposes to the Dispatcher. It
// never exposes concrete Recorder/Classifier/Device types, only the
// operations a protocol line can trigger.
type Commands interface {
	DeviceProvide() []string
	DeviceSet(name string) error
	DeviceOpen() error
	DeviceParamSet(name string, values []string) error
	DeviceParamGet(name string) (string, error)

	ClassifierProvide() []string
	ClassifierSet(name string) error
	ClassifierParamSet(name string, values []string) error
	ClassifierParamGet(name string) (string, error)

	ModeSet(mode string) error
	ModeGet() (string, error)

	MarkerSet(kind string, code int, timestamp *float64) error

	Ping() string
}

// Dispatcher parses one line at a time and routes it to Commands,
// returning the line to write back to the client (if any). It mirrors
// network.py's ClientHandler.handle_line dispatch table, but drives it
// off a static table keyed by (category, subcommand) instead of a chain
// of if/elif string comparisons.
type Dispatcher struct {
	cmds Commands
}

func NewDispatcher(cmds Commands) *Dispatcher {
	return &Dispatcher{cmds: cmds}
}

// HandleLine tokenizes and dispatches one client line. hasReply is false
// for commands that produce no synchronous response (the client instead
// receives an asynchronous MODE/RESULT/ERROR push via events.Sink).
func (d *Dispatcher) HandleLine(line string) (reply string, hasReply bool, err error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return "", false, bcierr.NewProtocol(bcierr.ErrInvalidArgType, "tokenize: %v", err)
	}
	if len(tokens) == 0 {
		return "", false, bcierr.NewProtocol(bcierr.ErrMissingCategory, "empty line")
	}

	// Category, subcommand, and name keywords are case-insensitive
	// (network.py's _parse_message/_parse_device/etc. all .lower() before
	// comparing); parameter values and marker arguments are passed through
	// untouched.
	category := strings.ToLower(tokens[0].Raw())
	rest := tokens[1:]

	switch category {
	case "ping":
		return d.cmds.Ping(), true, nil
	case "device":
		return d.device(rest)
	case "classifier":
		return d.classifier(rest)
	case "mode":
		return d.mode(rest)
	case "marker":
		return d.marker(rest)
	default:
		return "", false, bcierr.NewProtocol(bcierr.ErrUnknownCategory, "unknown category %q", category)
	}
}

func requireWord(tokens []Token, idx int, what string) (string, error) {
	if idx >= len(tokens) {
		return "", bcierr.NewProtocol(bcierr.ErrMissingArgument, "missing %s", what)
	}
	if !tokens[idx].IsString() {
		return "", bcierr.NewProtocol(bcierr.ErrInvalidArgType, "%s must be a word", what)
	}
	return tokens[idx].Raw(), nil
}

// requireKeyword is requireWord for tokens compared against fixed literal
// keywords (subcommands, mode names) rather than passed through to a
// registry or plugin — these are case-insensitive per spec.md §6.
func requireKeyword(tokens []Token, idx int, what string) (string, error) {
	word, err := requireWord(tokens, idx, what)
	if err != nil {
		return "", err
	}
	return strings.ToLower(word), nil
}

func (d *Dispatcher) device(tokens []Token) (string, bool, error) {
	sub, err := requireKeyword(tokens, 0, "DEVICE subcommand")
	if err != nil {
		return "", false, err
	}
	args := tokens[1:]

	switch sub {
	case "get", "provide":
		return EncodeStrings(d.cmds.DeviceProvide()), true, nil
	case "set":
		name, err := requireWord(args, 0, "device name")
		if err != nil {
			return "", false, err
		}
		return "", false, d.cmds.DeviceSet(name)
	case "open":
		return "", false, d.cmds.DeviceOpen()
	case "param":
		return d.param(args, d.cmds.DeviceParamSet, d.cmds.DeviceParamGet)
	default:
		return "", false, bcierr.NewProtocol(bcierr.ErrUnknownSubcommand, "unknown DEVICE subcommand %q", sub)
	}
}

func (d *Dispatcher) classifier(tokens []Token) (string, bool, error) {
	sub, err := requireKeyword(tokens, 0, "CLASSIFIER subcommand")
	if err != nil {
		return "", false, err
	}
	args := tokens[1:]

	switch sub {
	case "get", "provide":
		return EncodeStrings(d.cmds.ClassifierProvide()), true, nil
	case "set":
		name, err := requireWord(args, 0, "classifier name")
		if err != nil {
			return "", false, err
		}
		return "", false, d.cmds.ClassifierSet(name)
	case "param":
		return d.param(args, d.cmds.ClassifierParamSet, d.cmds.ClassifierParamGet)
	default:
		return "", false, bcierr.NewProtocol(bcierr.ErrUnknownSubcommand, "unknown CLASSIFIER subcommand %q", sub)
	}
}

// param handles the shared "PARAM SET <name> <values...>" / "PARAM GET
// <name>" grammar used by both DEVICE and CLASSIFIER.
func (d *Dispatcher) param(tokens []Token, set func(string, []string) error, get func(string) (string, error)) (string, bool, error) {
	sub, err := requireKeyword(tokens, 0, "PARAM subcommand")
	if err != nil {
		return "", false, err
	}
	rest := tokens[1:]

	switch sub {
	case "set":
		name, err := requireWord(rest, 0, "parameter name")
		if err != nil {
			return "", false, err
		}
		values := make([]string, 0, len(rest)-1)
		for _, t := range rest[1:] {
			values = append(values, t.Raw())
		}
		return "", false, set(name, values)
	case "get":
		name, err := requireWord(rest, 0, "parameter name")
		if err != nil {
			return "", false, err
		}
		val, err := get(name)
		if err != nil {
			return "", false, err
		}
		return EncodeString(val), true, nil
	default:
		return "", false, bcierr.NewProtocol(bcierr.ErrUnknownSubcommand, "unknown PARAM subcommand %q", sub)
	}
}

func (d *Dispatcher) mode(tokens []Token) (string, bool, error) {
	sub, err := requireKeyword(tokens, 0, "MODE subcommand")
	if err != nil {
		return "", false, err
	}
	args := tokens[1:]

	switch sub {
	case "set":
		mode, err := requireKeyword(args, 0, "mode name")
		if err != nil {
			return "", false, err
		}
		return "", false, d.cmds.ModeSet(mode)
	case "get":
		mode, err := d.cmds.ModeGet()
		if err != nil {
			return "", false, err
		}
		return EncodeString(mode), true, nil
	default:
		return "", false, bcierr.NewProtocol(bcierr.ErrUnknownSubcommand, "unknown MODE subcommand %q", sub)
	}
}

// marker implements "MARKER trigger|switch <code> [<timestamp>]". The
// timestamp is optional; when omitted the Engine's MarkerSet implementation
// evaluates time.Now() itself at call time, never at parse time — the Go
// fix for the original's evaluate-once default-argument bug (spec.md §9).
func (d *Dispatcher) marker(tokens []Token) (string, bool, error) {
	kind, err := requireWord(tokens, 0, "marker kind")
	if err != nil {
		return "", false, err
	}
	if kind != "trigger" && kind != "switch" {
		return "", false, bcierr.NewProtocol(bcierr.ErrInvalidArgType, "marker kind must be trigger or switch, got %q", kind)
	}
	if len(tokens) < 2 {
		return "", false, bcierr.NewProtocol(bcierr.ErrMissingArgument, "missing marker code")
	}
	code, ok := tokens[1].AsInt()
	if !ok {
		return "", false, bcierr.NewProtocol(bcierr.ErrInvalidArgType, "marker code must be an integer")
	}

	var ts *float64
	if len(tokens) >= 3 {
		f, ok := tokens[2].AsFloat()
		if !ok {
			return "", false, bcierr.NewProtocol(bcierr.ErrInvalidArgType, "marker timestamp must be numeric")
		}
		ts = &f
	}

	return "", false, d.cmds.MarkerSet(kind, int(code), ts)
}
