// Command querygate runs the read-only SQL gateway and its audit log tools.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/querygate/internal/cli"
)

func main() {
	// A missing .env is fine; settings then come from the environment alone.
	_ = godotenv.Load()

	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
