// The main package for the shadowprobe executable.
package main

import (
	"github.com/JakeFAU/shadowprobe/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
