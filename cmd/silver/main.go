// Command silver is the command line of the Silver transformation engine.
// It manages target schemas, field mappings and transformation rules, and
// moves raw Bronze documents into typed Silver tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "silver/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		var r reported
		if !errors.As(err, &r) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
