// Command bucketbrigade is the CLI entrypoint for the streaming core.
package main

import (
	"fmt"
	"os"

	"github.com/tphakala/bucketbrigade/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
