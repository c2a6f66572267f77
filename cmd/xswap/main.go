package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ggonzalez94/xswap/internal/app"
)

func main() {
	// A missing .env is fine; XSWAP_* may come from the shell.
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
