package collab

import (
	"io"

	"github.com/sasha-s/go-deadlock"
)

// BufConsole backs fd 0/1/2 with byte ring-style buffers instead of
// real UART/serial hardware, grounded on the teacher's uart ring
// buffer (uartInitRingBufferAfterMemInit / uartDrainRingBuffer).
type BufConsole struct {
	mu     deadlock.Mutex
	stdin  []byte
	Stdout io.Writer
	Stderr io.Writer
}

func NewBufConsole(stdout, stderr io.Writer) *BufConsole {
	return &BufConsole{Stdout: stdout, Stderr: stderr}
}

// FeedStdin appends bytes a real driver would have placed in the input
// buffer collaborator.
func (c *BufConsole) FeedStdin(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdin = append(c.stdin, p...)
}

func (c *BufConsole) ReadStdin(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stdin) == 0 {
		return 0, nil
	}
	n := copy(buf, c.stdin)
	c.stdin = c.stdin[n:]
	return n, nil
}

func (c *BufConsole) WriteStdout(p []byte) (int, error) { return c.Stdout.Write(p) }
func (c *BufConsole) WriteStderr(p []byte) (int, error) { return c.Stderr.Write(p) }
