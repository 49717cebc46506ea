package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sokinpui/revise/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		cli.ReportError(err)
		stop()
		os.Exit(1)
	}
}
