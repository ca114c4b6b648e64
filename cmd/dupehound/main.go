package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "dupehound",
		Short:   "Find duplicate files and directories by sampled content hashing",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newFindCmd())
	root.AddCommand(newHashCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
