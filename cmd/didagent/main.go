package main

import (
	"os"

	"github.com/pilacorp/go-did-agent/cmd/didagent/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
