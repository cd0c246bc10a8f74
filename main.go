// The main package for the snaply executable.
package main

import (
	"github.com/TomaszPielecki/Snaply/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
