package mockengine

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Serve runs the engine over a line-oriented reader/writer pair until quit or EOF.
func Serve(r io.Reader, w io.Writer, opts Options) error {
	var mu sync.Mutex
	bw := bufio.NewWriter(w)
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(bw, line)
		_ = bw.Flush()
	}

	e := New(opts, emit)
	defer e.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if !e.Handle(scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}
