package main

import (
	"os"

	"github.com/hbomb79/Siphon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
