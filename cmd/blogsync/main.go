package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/desurestar/RSOD-project/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute parses args, runs the selected command and releases the app.
func execute(ctx context.Context, args []string, out io.Writer, opts ...kong.Option) error {
	cli := CLI{out: out}
	opts = append([]kong.Option{
		kong.Name("blogsync"),
		kong.Description("Client for the recipe and article blog API."),
		kong.Vars{"version": app.Version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, opts...)
	parser, err := kong.New(&cli, opts...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	err = kctx.Run()
	if cli.app != nil {
		err = errors.Join(err, cli.app.Shutdown(context.Background()))
	}
	return err
}
