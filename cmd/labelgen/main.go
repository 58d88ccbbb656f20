// Package main implements the labelgen command: the HTTP API and generation
// worker (serve) plus the producer and operator commands that work against
// the job store directly.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
