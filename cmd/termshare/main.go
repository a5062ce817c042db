package main

import (
	"os"

	"github.com/termshare/termshare/cmd/termshare/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
