package main

import (
	"os"

	"github.com/GateWarden/GateWarden/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
