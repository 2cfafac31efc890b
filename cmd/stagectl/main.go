// stagectl is an operator tool for a running stage server: it mints
// development credentials, inspects channels, plays scripted gestures and
// manages the asset catalog.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"token", "mint a signed development credential", runToken},
	{"state", "print a channel's current state", runState},
	{"add", "place an asset on a channel", runAdd},
	{"drag", "drag an element by a pointer offset", runDrag},
	{"rotate", "rotate an element by a horizontal pointer offset", runRotate},
	{"resize", "resize an element from a corner handle", runResize},
	{"undo", "undo the last checkpointed change", runSimple("undo")},
	{"clear", "remove every element", runSimple("clear")},
	{"toggle-lock", "flip the kill switch", runSimple("toggle-lock")},
	{"approve", "approve an uploaded asset", runApprove},
	{"grant", "grant a user a role on a channel", runGrant},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(os.Stderr)
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			err := cmd.run(ctx, args[1:], out)
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return err
		}
	}
	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: stagectl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'stagectl <command> --help' for command flags.")
}
