// The main package for the stagetracker executable.
package main

import (
	"github.com/JakeFAU/realtime-stage-tracker/cmd"
)

// main defers all execution to the cobra CLI.
func main() {
	cmd.Execute()
}
