package main

import (
	"context"
	"fmt"
	"os"

	"docuquery-api/internal/cmd"
	"docuquery-api/internal/server/handlers"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	build := handlers.BuildInfo{Version: version, Commit: commit, Date: date}
	if err := cmd.Execute(context.Background(), build); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
