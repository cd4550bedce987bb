package main

import (
	"os"

	"github.com/deskline-ops/triagebot/cmd/triagebot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
