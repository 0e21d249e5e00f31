package main

import (
	"os"

	"github.com/foldops/gpufan/cmd/gpufan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
