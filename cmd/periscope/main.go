package main

import (
	"periscope/cmd/handlers"
	"periscope/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
