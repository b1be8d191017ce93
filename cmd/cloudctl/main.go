package main

import (
	"fmt"
	"os"

	"github.com/telekom/cloudctl/pkg/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := cmd.NewRootCommand(cmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, cmd.FormatError(err))
		return 1
	}
	return 0
}
