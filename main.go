package main

import (
	"os"

	"github.com/Dzordzu/o11y-389ds/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
