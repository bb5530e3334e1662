package device

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/netlink"
	"github.com/sirupsen/logrus"
)

const defaultJoinTimeout = 15 * time.Second

// wpa_supplicant states, codes as in its wpa_states enum.
var wpaStateCodes = map[string]int{
	"DISCONNECTED":       0,
	"INTERFACE_DISABLED": 1,
	"INACTIVE":           2,
	"SCANNING":           3,
	"AUTHENTICATING":     4,
	"ASSOCIATING":        5,
	"ASSOCIATED":         6,
	"4WAY_HANDSHAKE":     7,
	"GROUP_HANDSHAKE":    8,
	"COMPLETED":          9,
}

type commandRunner func(ctx context.Context, args ...string) (string, error)

// WpaRadio joins networks through a running wpa_supplicant using wpa_cli.
type WpaRadio struct {
	lock         sync.Mutex
	iface        string
	joinTimeout  time.Duration
	pollInterval time.Duration
	networkId    string
	run          commandRunner
}

func NewWpaRadio(iface string, joinTimeout time.Duration) *WpaRadio {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	r := &WpaRadio{
		iface:        iface,
		joinTimeout:  joinTimeout,
		pollInterval: 250 * time.Millisecond,
	}
	r.run = r.wpaCli
	return r
}

func (r *WpaRadio) wpaCli(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "wpa_cli", append([]string{"-i", r.iface}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("wpa_cli %s: %w", args[0], err)
	}
	return string(out), nil
}

// Join configures the network once, selects it and waits for the supplicant
// to complete the handshake. A join that does not complete in time returns a
// *netlink.JoinError carrying the last supplicant state code.
func (r *WpaRadio) Join(ctx context.Context, credentials netlink.Credentials) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.joinTimeout)
	defer cancel()

	if r.networkId == "" {
		out, err := r.run(ctx, "add_network")
		if err != nil {
			return err
		}
		id := lastLine(out)
		if _, err := strconv.Atoi(id); err != nil {
			return fmt.Errorf("wpa_cli add_network: unexpected reply %q", id)
		}
		r.networkId = id
		logrus.Debugf("wpa_supplicant network %s created for %q", id, credentials.SSID)
	}

	settings := [][]string{{"ssid", strconv.Quote(credentials.SSID)}}
	if credentials.Passphrase == "" {
		settings = append(settings, []string{"key_mgmt", "NONE"})
	} else {
		settings = append(settings, []string{"psk", strconv.Quote(credentials.Passphrase)})
	}
	for _, s := range settings {
		if err := r.expectOK(ctx, "set_network", r.networkId, s[0], s[1]); err != nil {
			return err
		}
	}
	if err := r.expectOK(ctx, "select_network", r.networkId); err != nil {
		return err
	}

	state := "UNKNOWN"
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		out, err := r.run(ctx, "status")
		if err == nil {
			state = statusField(out, "wpa_state")
			if state == "COMPLETED" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			code, ok := wpaStateCodes[state]
			if !ok {
				code = -1
			}
			return &netlink.JoinError{Status: code}
		case <-ticker.C:
		}
	}
}

func (r *WpaRadio) expectOK(ctx context.Context, args ...string) error {
	out, err := r.run(ctx, args...)
	if err != nil {
		return err
	}
	if reply := lastLine(out); reply != "OK" {
		return fmt.Errorf("wpa_cli %s: %s", args[0], reply)
	}
	return nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func statusField(out string, key string) string {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		k, v, found := strings.Cut(scanner.Text(), "=")
		if found && k == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
