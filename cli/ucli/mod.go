// Package ucli provides a cli builder implementation based on the urfave/cli
// library.
package ucli

import (
	"fmt"
	"io"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/votechain/cli"
)

// Builder implements a cli builder based on urfave/cli
//
// - implements cli.Builder
type Builder struct {
	commands []*cmdBuilder
	name     string
	usage    string
	flags    []cli.Flag
	writer   io.Writer
	reader   io.Reader
}

// NewBuilder returns a new initialized builder. Flags provides the global
// flags available from all the commands/subcommands.
func NewBuilder(name string, flags ...cli.Flag) *Builder {
	return &Builder{
		name:  name,
		flags: flags,
	}
}

// SetUsage sets the description of the application printed by the help.
func (b *Builder) SetUsage(value string) {
	b.usage = value
}

// SetIO sets the input and the output of the application. A nil value keeps
// the standard one.
func (b *Builder) SetIO(in io.Reader, out io.Writer) {
	b.reader = in
	b.writer = out
}

// Build implements cli.builder.
func (b Builder) Build() cli.Application {
	app := &urfave.App{
		Name:        b.name,
		Usage:       b.usage,
		HideVersion: true,
		Commands:    buildCommand(b.commands),
		Flags:       buildFlags(b.flags),
	}

	if b.writer != nil {
		app.Writer = b.writer
	}

	if b.reader != nil {
		app.Reader = b.reader
	}

	app.Setup()

	return app
}

// SetCommand implements cli.Builder.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	cmd := &cmdBuilder{
		name: name,
	}
	b.commands = append(b.commands, cmd)

	return cmd
}

// commandBuilder is the struct provided to build commands.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []urfave.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = buildFlags(flags)
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	builder := &cmdBuilder{
		name: name,
	}
	b.subcommands = append(b.subcommands, builder)

	return builder
}

// buildFlags converts the definitions into urfave flags. It panics for an
// unknown definition or a name used twice.
func buildFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, len(flags))
	seen := make(map[string]struct{}, len(flags))

	for i, f := range flags {
		res[i] = buildFlag(f)

		name := f.FlagName()
		if _, found := seen[name]; found {
			panic(fmt.Sprintf("flag '%s' is defined twice", name))
		}

		seen[name] = struct{}{}
	}

	return res
}

func buildFlag(f cli.Flag) urfave.Flag {
	switch e := f.(type) {
	case cli.StringFlag:
		return &urfave.StringFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.PathFlag:
		return &urfave.PathFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.DurationFlag:
		return &urfave.DurationFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.IntFlag:
		return &urfave.IntFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.BoolFlag:
		return &urfave.BoolFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	default:
		panic(fmt.Sprintf("flag type '%T' not supported", f))
	}
}

// buildCommand recursively builds the commands from a cmdBuilder struct to a
// urfave commands.
func buildCommand(cmds []*cmdBuilder) []*urfave.Command {
	commands := make([]*urfave.Command, len(cmds))

	for i, cmd := range cmds {
		commands[i] = &urfave.Command{
			Name:        cmd.name,
			Usage:       cmd.description,
			Action:      makeAction(cmd.action),
			Flags:       cmd.flags,
			Subcommands: buildCommand(cmd.subcommands),
		}
	}

	return commands
}

// makeAction transforms a cli.Action to its urfave form. The action receives
// the context the application runs with.
func makeAction(action cli.Action) urfave.ActionFunc {
	if action != nil {
		return func(ctx *urfave.Context) error {
			return action(ctx.Context, ctx)
		}
	}
	return nil
}
