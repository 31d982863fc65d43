package main

import (
	"fmt"
	"os"

	"revdash/internal/cli"
	"revdash/internal/log"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentReport)
	cfg := cli.LoadAndValidateConfig(logger)

	if err := cli.NewReportCmd(cli.ConfiguredBackend(cfg, logger)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
