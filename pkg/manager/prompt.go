package manager

import (
	"fmt"
	"io"
)

// clearLine erases whatever the terminal echoed for the signal (^C) before
// the notice is printed.
const clearLine = "\033[2K\r"

func shutdownNotice(out io.Writer, cause string, subscribers int) {
	fmt.Fprintf(out, "%s%s: shutting down gracefully, waiting for runners to stop (%d subscribed)\n",
		clearLine, cause, subscribers)
}
