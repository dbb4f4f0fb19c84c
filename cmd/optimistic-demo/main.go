// Command optimistic-demo serves the journal API and walks through the
// optimistic mutation lifecycle against it.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/go-optimistic-kit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
