package main

import (
	"os"

	ollamabridgecmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge"
)

func main() {
	cmd := ollamabridgecmder.NewOllamaBridgeCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
