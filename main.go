package main

import (
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/core/server"
)

func main() {
	if err := server.Run(); err != nil {
		logger.Error("run server error", "error", err)
	}
}
