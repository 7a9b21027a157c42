package main

import (
	"os"

	"github.com/digitorus/signflow/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
