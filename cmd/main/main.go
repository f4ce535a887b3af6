package main

import (
	"fmt"
	"os"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "babble: "+describeError(err))
		os.Exit(1)
	}
}
