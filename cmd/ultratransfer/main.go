// Command ultratransfer downloads and uploads files as encrypted fragments
// against a chat-CDN attachment host.
package main

import (
	"fmt"
	"os"

	"github.com/rescale-labs/ultratransfer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
