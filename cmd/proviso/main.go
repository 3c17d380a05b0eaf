package main

import (
	"os"

	"github.com/provisohq/proviso/internal/cli"
)

var exitFn = os.Exit

func main() {
	exitFn(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
