package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// CommandKind identifies a client command.
type CommandKind string

// Client commands.
const (
	StartCamera         CommandKind = "START_CAMERA"
	StopCamera          CommandKind = "STOP_CAMERA"
	ProcessSegmentation CommandKind = "PROCESS_SEGMENTATION"
	StartCombat         CommandKind = "START_COMBAT"
	StopCombat          CommandKind = "STOP_COMBAT"
	ResetGesture        CommandKind = "RESET_GESTURE"
	SetScene            CommandKind = "SET_SCENE"
)

// legacyProcessSegmentation is still sent by older clients.
const legacyProcessSegmentation = "PROCESS_SAM"

// Scene hints forwarded to the segmentation provider.
const (
	SceneWall  = "wall"
	SceneTable = "table"
)

var (
	// ErrUnknownCommand is returned for commands outside the protocol.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArgument is returned when a known command has an invalid argument.
	ErrBadArgument = errors.New("invalid command argument")
)

// Command is a parsed client command.
type Command struct {
	Kind CommandKind
	// Arg is the text after the first ':' for commands that take one.
	Arg string
}

// ParseCommand parses a text command. Surrounding whitespace is ignored and
// the command word is case-insensitive.
func ParseCommand(raw string) (Command, error) {
	text := strings.TrimSpace(raw)
	word, arg, hasArg := strings.Cut(text, ":")
	word = strings.ToUpper(strings.TrimSpace(word))
	arg = strings.TrimSpace(arg)

	switch CommandKind(word) {
	case StartCamera, StopCamera, ProcessSegmentation, StartCombat, StopCombat, ResetGesture:
		if hasArg {
			return Command{}, fmt.Errorf("%w: %s takes no argument", ErrBadArgument, word)
		}
		return Command{Kind: CommandKind(word)}, nil
	case SetScene:
		arg = strings.ToLower(arg)
		if arg != SceneWall && arg != SceneTable {
			return Command{}, fmt.Errorf("%w: scene %q", ErrBadArgument, arg)
		}
		return Command{Kind: SetScene, Arg: arg}, nil
	}

	if word == legacyProcessSegmentation && !hasArg {
		return Command{Kind: ProcessSegmentation}, nil
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
}
