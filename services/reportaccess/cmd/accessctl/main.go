// Command accessctl manages report access policies directly against the
// configured store, without going through the HTTP service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openBackend).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
