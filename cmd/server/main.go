package main

import (
	"github.com/driftline/ledger/internal/server"
	"github.com/driftline/ledger/internal/util"
	"github.com/driftline/ledger/pkg/logger"
	"github.com/driftline/ledger/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
