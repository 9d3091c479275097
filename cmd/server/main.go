package main

import (
	"os"

	"github.com/joho/godotenv"

	"oracleescrow/internal/commands"
)

func main() {
	_ = godotenv.Load(".env")

	if err := commands.ServeCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
