package main

import (
	"raceops-backend/cmd/promoctl/commands"

	"github.com/joho/godotenv"
)

func main() {
	// optional, the environment itself may carry everything
	godotenv.Load()

	commands.Execute()
}
