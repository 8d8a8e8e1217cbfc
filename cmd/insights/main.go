package main

import (
	"os"

	"github.com/armadaproject/insights/cmd/insights/cmd"
	"github.com/armadaproject/insights/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
