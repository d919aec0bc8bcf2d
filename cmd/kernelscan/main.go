package main

import (
	"os"

	"github.com/abramin/kernelscan/cmd/kernelscan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
