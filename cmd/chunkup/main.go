package main

import (
	"os"

	"github.com/bitrise-io/go-chunkupload/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.DefaultDependencies()).Execute(); err != nil {
		os.Exit(1)
	}
}
