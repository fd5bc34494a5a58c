package main

import (
	"os"

	"termscan/cmd/termscan/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
