// Package sshcmd assembles the GIT_SSH_COMMAND value handed to the git binary.
package sshcmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/kballard/go-shellquote"
)

// DefaultCommand is used when no ssh command is configured.
const DefaultCommand = "ssh"

// ErrEmptyCommand is returned when the configured ssh command has no words.
var ErrEmptyCommand = errors.New("ssh command is empty")

// Command describes one ssh invocation for git.
type Command struct {
	// Base is the ssh program followed by its fixed arguments.
	Base []string

	// IdentityFile is passed with -i and restricts ssh to that identity.
	IdentityFile string

	// User is passed with -l.
	User string

	// Password allows one password prompt, answered through SSH_ASKPASS.
	// Otherwise ssh runs in batch mode and never prompts.
	Password bool

	// HostKeyOptions is an already shell-quoted option string produced by a
	// host key strategy.
	HostKeyOptions string
}

// Parse splits a configured ssh command line into words. An empty command
// selects DefaultCommand.
func Parse(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return []string{DefaultCommand}, nil
	}
	words, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh command %q: %w", command, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return words, nil
}

// String renders the command for the shell git runs GIT_SSH_COMMAND with.
func (c Command) String() string {
	base := c.Base
	if len(base) == 0 {
		base = []string{DefaultCommand}
	}

	words := append([]string{}, base...)
	if c.Password {
		words = append(words, "-o", "NumberOfPasswordPrompts=1")
	} else {
		words = append(words, "-o", "BatchMode=yes")
	}
	if c.IdentityFile != "" {
		words = append(words, "-i", c.IdentityFile, "-o", "IdentitiesOnly=yes")
	}
	if c.User != "" {
		words = append(words, "-l", c.User)
	}

	out := shellquote.Join(words...)
	if opts := strings.TrimSpace(c.HostKeyOptions); opts != "" {
		out += " " + opts
	}
	return out
}
