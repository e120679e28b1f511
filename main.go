// The main package for the ledger executable.
package main

import "github.com/JakeFAU/scrape-ledger/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
