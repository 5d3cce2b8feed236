package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			// interrupted by the user, nothing to report
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "bindery:", err)
		os.Exit(1)
	}
}
