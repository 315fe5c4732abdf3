// The main package for the keysweep executable.
package main

import (
	"github.com/scanforge/keysweep/cmd"
)

func main() {
	cmd.Execute()
}
