// Package main is the entry point for the happy sync client.
package main

import (
	"fmt"
	"os"

	"github.com/Enflame-Media/happy-sub000/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
