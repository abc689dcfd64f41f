// Command chunkd runs the resumable chunked-upload coordinator described
// in spec.md.
package main

import (
	"fmt"
	"os"

	"github.com/chunkhaven/chunkd/cmd/chunkd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
