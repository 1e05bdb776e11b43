// Command facet manages a tenant-scoped entity store with computed
// properties.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/facet/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if _, ok := err.(*cli.ExitError); !ok {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
