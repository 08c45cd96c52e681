package main

import (
	"os"

	"github.com/TykTechnologies/graphql-federation-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
