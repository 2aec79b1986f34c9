// Command expctl administers experiments directly against the configured
// store, without going through the HTTP API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultRuntime).Execute(); err != nil {
		os.Exit(1)
	}
}
