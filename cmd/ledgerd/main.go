/**
 * @description
 * Entry point for ledgerd. Loads a local .env file when present and hands off to the
 * cobra command tree.
 */
package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/transfa/ledger-service/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using process environment\"")
	}
	cli.Execute()
}
