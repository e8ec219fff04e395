// Package main is the entry point for buffwatch.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/buffwatch/cmd"
	_ "firestige.xyz/buffwatch/plugins"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
