package main

import (
	"os"

	"github.com/joho/godotenv"

	"oracleescrow/internal/commands"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := commands.MigrateCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
