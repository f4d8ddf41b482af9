package main

import (
	"os"

	"github.com/animus-coder/scribe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
