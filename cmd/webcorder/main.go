package main

import (
	"os"

	"github.com/webcorder/webcorder/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
