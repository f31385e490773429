//go:build !linux

package session

import (
	"context"
	"errors"
	"log/slog"
)

type netlinkTrigger struct{}

func newNetlinkTrigger(*slog.Logger, func()) *netlinkTrigger { return &netlinkTrigger{} }

func (*netlinkTrigger) Start(context.Context) error {
	return errors.New("netlink not supported on this platform")
}

func (*netlinkTrigger) Stop() {}
