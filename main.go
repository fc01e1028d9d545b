package main

import (
	"os"

	"github.com/caseflow/caseflow/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
