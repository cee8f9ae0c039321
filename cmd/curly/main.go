// Command curly fetches URLs with retries and runs keyed request batches
// in parallel chunks.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd(os.Stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return exitCode(err)
	}
	return ExitSuccess
}
