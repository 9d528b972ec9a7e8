package main

import (
	"os"

	"github.com/psantana5/whisperq/cmd/whisperq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
