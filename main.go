// The main package for the unfurl executable.
package main

import (
	"github.com/JakeFAU/unfurl/cmd"
)

func main() {
	cmd.Execute()
}
