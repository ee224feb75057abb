package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// Command is the subcommand to execute.
type Command int

const (
	None Command = iota
	Sync
	Version
	Init
	Manifest
	AuthURL
)

var commandToString = map[Command]string{
	None:     "none",
	Sync:     "sync",
	Version:  "version",
	Init:     "init",
	Manifest: "manifest",
	AuthURL:  "auth-url",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'sync', 'init', 'manifest', 'auth-url' or 'version'", s)
}
