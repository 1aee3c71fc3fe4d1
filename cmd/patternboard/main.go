package main

import (
	"os"

	"patternboard/cmd/patternboard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
