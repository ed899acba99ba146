// Package command is the host's command surface: toggleable tools exposed by
// name to menus and the HTTP API.
package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("command: unknown command")
	ErrCannotExecute  = errors.New("command: cannot execute in current state")
	ErrDuplicate      = errors.New("command: duplicate name")
)

type Command interface {
	DisplayName() string
	CanExecute() bool
	Execute()
	IsChecked() bool
	// OnStateChanged registers fn to run whenever CanExecute or IsChecked may
	// have changed
	OnStateChanged(fn func())
}

type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Checked     bool   `json:"checked"`
	CanExecute  bool   `json:"can_execute"`
}

// Registry is owned by the UI dispatcher
type Registry struct {
	names []string
	cmds  map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{cmds: map[string]Command{}}
}

func (r *Registry) Register(name string, c Command) error {
	if name == "" || c == nil {
		return errors.New("command: name and command are required")
	}
	if _, ok := r.cmds[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.cmds[name] = c
	r.names = append(r.names, name)
	return nil
}

func (r *Registry) Get(name string) (Command, bool) {
	c, ok := r.cmds[name]
	return c, ok
}

// Execute runs the named command if it can currently execute
func (r *Registry) Execute(name string) (Info, error) {
	c, ok := r.cmds[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if !c.CanExecute() {
		return info(name, c), fmt.Errorf("%w: %q", ErrCannotExecute, name)
	}
	c.Execute()
	return info(name, c), nil
}

// Describe reports the current state of the named command
func (r *Registry) Describe(name string) (Info, error) {
	c, ok := r.cmds[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return info(name, c), nil
}

// List describes every command in registration order
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, info(n, r.cmds[n]))
	}
	return out
}

func info(name string, c Command) Info {
	return Info{
		Name:        name,
		DisplayName: c.DisplayName(),
		Checked:     c.IsChecked(),
		CanExecute:  c.CanExecute(),
	}
}
