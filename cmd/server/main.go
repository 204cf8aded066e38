package main

import (
	"os"

	"github.com/dkeye/securecall/cmd/server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
