package main

import (
	"fmt"
	"os"

	"github.com/kotoba-ai/kotoba/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
