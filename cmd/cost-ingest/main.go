package main

import (
	"fmt"
	"os"

	"github.com/cloudlens/cost-ingest-go/internal/adapter/driving/cli"
)

func main() {
	app := cli.NewApp()
	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
