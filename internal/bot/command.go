package bot

import "strings"

type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandStart
	CommandHelp
	CommandPrice
	CommandFiat
	CommandSource
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandHelp:
		return "help"
	case CommandPrice:
		return "price"
	case CommandFiat:
		return "fiat"
	case CommandSource:
		return "source"
	default:
		return "unknown"
	}
}

type Command struct {
	Kind CommandKind
	Args []string
}

// ParseCommand reads "/name[@bot] args..." from text. botName, when set,
// rejects commands addressed to a different bot in group chats.
func ParseCommand(text, botName string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}

	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if botName != "" && !strings.EqualFold(name[at+1:], botName) {
			return Command{}, false
		}
		name = name[:at]
	}

	cmd := Command{Args: fields[1:]}
	switch strings.ToLower(name) {
	case "start":
		cmd.Kind = CommandStart
	case "help":
		cmd.Kind = CommandHelp
	case "price", "p":
		cmd.Kind = CommandPrice
	case "fiat":
		cmd.Kind = CommandFiat
	case "source":
		cmd.Kind = CommandSource
	default:
		cmd.Kind = CommandUnknown
	}
	return cmd, true
}
