package main

import (
	"fmt"
	"os"

	"github.com/conductorone/deceive/internal/cliapp"
)

var version = "dev"

func main() {
	cmd := cliapp.NewRootCommand(version)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
