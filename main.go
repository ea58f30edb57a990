// The main package for the headline-tracker executable.
package main

import (
	"github.com/JakeFAU/headline-tracker/cmd"
)

func main() {
	cmd.Execute()
}
