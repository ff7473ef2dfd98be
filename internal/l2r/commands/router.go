// Package commands parses and routes operator commands ("!l2r ...") sent in
// the admin room.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Prefix starts every operator command.
const Prefix = "!l2r"

// Command represents a parsed command
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	Flags      map[string]string
	// RawText is the message with the prefix removed.
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix. Callers should use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles one command on behalf of sender and returns the reply text.
type Handler func(ctx context.Context, cmd *Command, sender string) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a new command router
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under "name" or "name.subcommand".
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}
	rest := strings.TrimPrefix(text, r.prefix)
	// "!l2rx" is not ours.
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(rest)
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}

	if len(parts) > 1 {
		if !strings.HasPrefix(parts[1], "-") {
			cmd.Subcommand = parts[1]
			parts = parts[2:]
		} else {
			parts = parts[1:]
		}

		for i := 0; i < len(parts); i++ {
			part := parts[i]

			if strings.HasPrefix(part, "--") {
				flagName := strings.TrimPrefix(part, "--")
				if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
					cmd.Flags[flagName] = parts[i+1]
					i++
				} else {
					cmd.Flags[flagName] = "true"
				}
			} else {
				cmd.Args = append(cmd.Args, part)
			}
		}
	}

	return cmd, nil
}

// Route parses and routes a command to its handler. A "name.subcommand"
// handler wins over a plain "name" handler.
func (r *Router) Route(ctx context.Context, text string, sender string) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handlerKey := cmd.Name
	if cmd.Subcommand != "" {
		handlerKey = cmd.Name + "." + strings.ToLower(cmd.Subcommand)
	}

	handler, ok := r.handlers[handlerKey]
	if !ok {
		handler, ok = r.handlers[cmd.Name]
		if !ok {
			return "", fmt.Errorf("unknown command: %s (try %s help)", cmd.FullCommand(), r.prefix)
		}
	}

	return handler(ctx, cmd, sender)
}

// GetFlag returns a flag value with a default
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// HasFlag checks if a flag is present
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// Params returns the subcommand followed by the arguments, for commands
// that take plain values ("maxturns 5", "link on").
func (c *Command) Params() []string {
	if c.Subcommand == "" {
		return c.Args
	}
	return append([]string{c.Subcommand}, c.Args...)
}

// Text returns the raw text after the command name and skip further words,
// with inner spacing preserved.
func (c *Command) Text(skip int) string {
	return afterWords(c.RawText, skip+1)
}

func afterWords(s string, n int) string {
	s = strings.TrimSpace(s)
	for i := 0; i < n && s != ""; i++ {
		idx := strings.IndexFunc(s, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx:])
	}
	return s
}

// FullCommand returns the full command string
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}
