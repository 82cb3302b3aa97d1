// Command entree runs the single sign on authority.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-entree/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "entree: %v\n", err)
		os.Exit(1)
	}

	lgr := newLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, lgr); err != nil {
		lgr.GetLogger("main").Error("entree stopped", "error", err)
		os.Exit(1)
	}
}
