package main

import (
	"fmt"
	"os"

	"github.com/willagc/dn42-peering/cmd/dn42-peering/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
