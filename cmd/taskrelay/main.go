package main

import (
	"fmt"
	"os"

	"github.com/taskrelay/taskrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskrelay: %v\n", err)
		os.Exit(1)
	}
}
