// Package cli parses the relaycore command line, mirroring the
// original's -c/-t/-v/-g/-k flag set.
package cli

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// Args holds the parsed command-line flags.
type Args struct {
	ConfPath    string `short:"c" name:"config" default:"relaycore.yml" help:"path to the configuration file"`
	TestConfig  bool   `short:"t" help:"parse the configuration file and exit"`
	Version     bool   `short:"v" help:"print version and exit"`
	GracePeriod string `short:"g" default:"30s" help:"graceful-quit grace period before a forced interrupt"`
	Kill        bool   `short:"k" help:"send SIGTERM to a running instance and exit"`
}

// Parse parses args (normally os.Args[1:]) into an Args.
func Parse(version string, args []string) (*Args, error) {
	var a Args

	parser, err := kong.New(&a,
		kong.Description("relaycore "+version),
		kong.UsageOnError(),
	)
	if err != nil {
		return nil, fmt.Errorf("cli: %w", err)
	}

	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("cli: %w", err)
	}

	return &a, nil
}
