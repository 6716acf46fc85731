package main

import (
	"github.com/halcyon-sec/driftwatch/cmd/driftwatch/commands"
)

func main() {
	commands.Execute()
}
