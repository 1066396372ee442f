// Command legalcrawl-engine is the engine's standalone process entrypoint:
// it delegates entirely to internal/cli's cobra command tree (root, run,
// serve).
package main

import cmd "github.com/legalcrawl/engine/internal/cli"

func main() {
	cmd.Execute()
}
