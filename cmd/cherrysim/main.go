package main

import (
	"github.com/fruitymesh/cherrysim-go/internal/cli"
)

// Build information, injected at compile time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	cli.Execute()
}
