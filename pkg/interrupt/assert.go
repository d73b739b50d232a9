package interrupt

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
)

const mainGoroutineID = 1

// goroutineID parses the current goroutine's id from the first line of its
// stack trace ("goroutine 17 [running]:"). It returns 0 if the line cannot
// be parsed.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// assertMainGoroutine panics unless called from main. Returning from main
// is what ends the process once Run returns, so helpers that block in Run
// are only meaningful there.
func assertMainGoroutine(caller string) {
	if id := goroutineID(); id != mainGoroutineID {
		panic(fmt.Sprintf("%s must be called from the main goroutine, not goroutine %d", caller, id))
	}
}
