// The main package for the discocrawl executable.
package main

import (
	"github.com/JakeFAU/discogs-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
