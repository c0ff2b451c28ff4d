package cli

import "time"

// StringFlag is a text flag.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    string
}

// FlagName implements cli.Flag.
func (f StringFlag) FlagName() string {
	return f.Name
}

// PathFlag is a flag naming a file. Shells complete it as a path.
//
// - implements cli.Flag
type PathFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    string
}

// FlagName implements cli.Flag.
func (f PathFlag) FlagName() string {
	return f.Name
}

// DurationFlag is a flag in the time.ParseDuration format, like 1m30s.
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    time.Duration
}

// FlagName implements cli.Flag.
func (f DurationFlag) FlagName() string {
	return f.Name
}

// IntFlag is a decimal integer flag.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    int
}

// FlagName implements cli.Flag.
func (f IntFlag) FlagName() string {
	return f.Name
}

// BoolFlag is a switch. It is true when present unless set to false.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    bool
}

// FlagName implements cli.Flag.
func (f BoolFlag) FlagName() string {
	return f.Name
}
