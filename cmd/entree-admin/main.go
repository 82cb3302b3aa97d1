// Command entree-admin manages identities, sites and profile properties
// of an authority database.
//
//	entree-admin [-dsn DSN] identity create [-email E] [-noinput] [-active] [-hashid]
//	entree-admin [-dsn DSN] site add -title T -url U [-secret S] [-default] [-inactive]
//	entree-admin [-dsn DSN] site list
//	entree-admin [-dsn DSN] site default -id N
//	entree-admin [-dsn DSN] property add -site N -name NAME -slug SLUG [-type string|integer|boolean] [-required] [-unique]
//	entree-admin [-dsn DSN] property delete -site N -slug SLUG
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "entree-admin: %v\n", err)
		os.Exit(1)
	}
}
