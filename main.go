// The main package for the progressdemo executable.
package main

import (
	"github.com/JakeFAU/progress-coordinator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
