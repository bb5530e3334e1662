// Package netlink brings the WiFi connection up and publishes the address the
// network assigned.
package netlink

import (
	"context"
	"fmt"
	"net/netip"
	"time"
)

const (
	DefaultConfigPollInterval = 100 * time.Millisecond
	DefaultLinkPollInterval   = 500 * time.Millisecond
)

type State int32

const (
	Disconnected State = iota
	Joining
	WaitingForConfig
	WaitingForLink
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case WaitingForConfig:
		return "waiting_for_config"
	case WaitingForLink:
		return "waiting_for_link"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Credentials struct {
	SSID       string
	Passphrase string
}

// JoinError is a failed association, Status is the radio's own code.
type JoinError struct {
	Status int
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join failed with status=%d", e.Status)
}

type ConfigV4 struct {
	Address netip.Prefix
	Gateway netip.Addr
}

type Radio interface {
	Join(ctx context.Context, credentials Credentials) error
}

type Stack interface {
	IsConfigUp() bool
	IsLinkUp() bool
	WaitConfigUp(ctx context.Context) (ConfigV4, error)
}

type Publisher interface {
	Publish(text string) error
}

type Intervals struct {
	Config time.Duration
	Link   time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{Config: DefaultConfigPollInterval, Link: DefaultLinkPollInterval}
}
