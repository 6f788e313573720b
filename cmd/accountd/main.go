// Command accountd operates an account store from the command line: it
// creates the schema, drives the lifecycle for support requests and relays
// undelivered notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-account"
)

const usage = `usage: accountd [-config path] <command> [args]

commands:
  migrate              create the account tables
  register             sign up a user, prompting for details
  activate <code>      activate the account holding code
  forgot <email>       send a password reset link
  reset <key>          set a new password with a reset key
  pending              list undelivered notifications
  relay                redeliver notifications on an interval
  session <id>         show the user bound to a session
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("accountd", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	configPath := fs.String("config", os.Getenv("ACCOUNT_CONFIG"), "path to a yaml, json or toml config file")
	debug := fs.Bool("debug", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := account.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := newApp(ctx, cfg, *debug)
	if err != nil {
		return err
	}
	defer a.Close()

	a.in = in
	a.out = out

	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}
