package main

import (
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/cmd"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
