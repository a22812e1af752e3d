package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"yagpt-router/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := cmd.Execute(ctx, os.Args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "yagpt-router: interrupted, proxy stopped")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "yagpt-router: %v\nRun 'yagpt-router serve --help' for usage.\n", err)
		return 1
	}
}
