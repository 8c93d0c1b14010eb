// Command mcp runs the Assetbay MCP server over stdio.
//
// It exposes marketplace operations (browse listings, make offers, pay
// orders, fetch invoices) as MCP tools backed by the Assetbay REST API.
//
// Configuration via environment variables:
//
//	ASSETBAY_API_URL  Base URL of the Assetbay API (default http://localhost:8080)
//	ASSETBAY_API_KEY  API key used for authenticated calls (required)
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/assetbay/assetbay/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("ASSETBAY_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("ASSETBAY_API_KEY"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "ASSETBAY_API_KEY environment variable is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
