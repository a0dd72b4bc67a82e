package main

import (
	"os"

	"github.com/jakenelson/agentbox/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
