package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Console writes change messages to a stream, for running the watcher
// without a bot token.
type Console struct {
	out io.Writer
}

func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter is for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) NotifyRevenueChange(_ context.Context, change RevenueChange) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", time.Now().Format("15:04:05"), change.Message())
	return err
}
