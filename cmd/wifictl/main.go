// Package main is the entry point for wifictl, the wifi daemon's operator CLI.
package main

import (
	"github.com/joho/godotenv"

	"github.com/bbernstein/lacylights-wifi/internal/cli"
)

func main() {
	// WIFICTL_SERVER may come from a .env file
	_ = godotenv.Load()
	cli.Execute()
}
