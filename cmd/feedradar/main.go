// ABOUTME: Entry point for feedradar CLI
// ABOUTME: Executes the root command and exits 1 on error

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
