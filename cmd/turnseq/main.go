// Command turnseq sequences producer event streams into an ordered,
// replayable conversation history.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/turnseq/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return cli.GetExitCode(err)
}
