// Package main is the entry point of the Neptune search replication
// service. It delegates to the cli package, which owns configuration
// loading, pipeline wiring and the poll-cycle driver loop.
package main

import (
	"os"

	"neptunesearch.evalgo.org/cli"
	"neptunesearch.evalgo.org/common"
)

func main() {
	if err := cli.Execute(); err != nil {
		common.Logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
