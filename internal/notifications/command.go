package notifications

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandSender runs a desktop notifier with the message as the last argument.
type commandSender struct {
	argv    []string
	timeout time.Duration
}

func (c *commandSender) name() string { return "command" }

func (c *commandSender) send(ctx context.Context, data payload) error {
	if len(c.argv) == 0 {
		return fmt.Errorf("notification command is empty")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := append(append([]string(nil), c.argv[1:]...), data.message)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("run %s: %w: %s", c.argv[0], err, detail)
		}
		return fmt.Errorf("run %s: %w", c.argv[0], err)
	}
	return nil
}
