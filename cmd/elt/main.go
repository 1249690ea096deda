// Command elt extracts the store API feeds into the bronze schema and then
// triggers the downstream transformation.
//
// Usage:
//
//	elt run                      # setup, extract-load every feed, transform
//	elt setup                    # create the bronze schema and tables
//	elt extract-load [feed...]   # users, products, carts (default: all)
//	elt transform                # run TRANSFORM_COMMAND with retries
//	elt validate                 # print configuration issues
//
// Settings come from flags, the environment and an optional .env file; see
// internal/config for the variable names.
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
	defer stop()

	a := newApp()
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "elt: %v\n", err)
		stop()
		os.Exit(1)
	}
}
