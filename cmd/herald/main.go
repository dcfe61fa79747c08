// Package main is the entry point for Herald, the marketing campaign engine.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
