package main

import (
	"os"

	"github.com/gulfconsultants/portal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
