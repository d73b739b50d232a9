// tickd runs the runners described in a config file until it receives a
// termination signal or a stop request over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
