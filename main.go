// The main package for the newsindexer executable.
package main

import (
	"os"

	"github.com/JakeFAU/realtime-news-indexer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
