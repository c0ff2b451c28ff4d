// Package cli defines the Builder type, which allows one to build a CLI
// application in a modular way.
//
//	builder := ucli.NewBuilder("votechain")
//
//	cmd := builder.SetCommand("results")
//	cmd.SetDescription("Print the results of the poll")
//	cmd.SetAction(func(ctx context.Context, flags cli.Flags) error {
//		return show(ctx, flags.Path("config"))
//	})
//
//	builder.Build().RunContext(ctx, os.Args)
//
// The actions receive the context of the application, which is done when the
// process is asked to stop.
package cli

import (
	"context"
	"time"
)

// Builder is an application builder interface. One can set properties of an
// application then build it.
type Builder interface {
	// SetCommand creates a new command with the given name and returns its
	// builder.
	SetCommand(name string) CommandBuilder

	// Build returns the application.
	Build() Application
}

// Application is the main interface to run the CLI.
type Application interface {
	RunContext(ctx context.Context, arguments []string) error
}

// CommandBuilder is a command builder interface. One can set properties of a
// specific command like its name and description and what it should do when
// invoked.
type CommandBuilder interface {
	// SetDescription sets the value of the description for this command.
	SetDescription(value string)

	// SetFlags sets the flags for this command.
	SetFlags(...Flag)

	// SetAction sets the action for this command.
	SetAction(Action)

	// SetSubCommand creates a subcommand for this command.
	SetSubCommand(name string) CommandBuilder
}

// Action is a function that will be executed when a command is invoked.
type Action func(context.Context, Flags) error

// Flag is the definition of a flag. The name is unique among the flags of a
// command.
type Flag interface {
	FlagName() string
}

// Flags provides the primitives to an action to read the flags.
type Flags interface {
	String(name string) string

	Duration(name string) time.Duration

	Path(name string) string

	Int(name string) int

	Bool(name string) bool
}
