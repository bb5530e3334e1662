package device

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jypelle/ipbadge/apimodel"
	"github.com/jypelle/ipbadge/internal/srv/bus"
	"github.com/jypelle/ipbadge/internal/srv/config"
	"github.com/jypelle/ipbadge/internal/srv/netlink"
	"github.com/jypelle/ipbadge/internal/srv/render"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type countingBus struct {
	mu    sync.Mutex
	bytes int
}

func (b *countingBus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytes += len(w)
	return nil
}

func TestDisplayOverSharedBus(t *testing.T) {
	transport := &countingBus{}
	arbiter := bus.NewArbiter("spi0", transport)
	cs := &gpiotest.Pin{N: "CS"}
	dev, err := arbiter.Device("oled", cs)
	require.NoError(t, err)

	reset := &gpiotest.Pin{N: "RESET"}
	display := NewDisplay(dev.Port(), &gpiotest.Pin{N: "DC"}, reset, 128, 64)
	require.Equal(t, image.Rect(0, 0, 128, 64), display.Bounds())

	frame := image.NewGray(display.Bounds())
	require.ErrorIs(t, display.Update(context.Background(), frame), ErrDisplayNotSetup)

	require.NoError(t, display.Reset(context.Background()))
	require.Equal(t, gpio.High, reset.Read())
	require.NoError(t, display.Setup(context.Background(), render.LUTMedium))
	setupTransactions := arbiter.Stats().Transactions
	require.NotZero(t, setupTransactions)

	render.Fill(frame, image.Rect(0, 0, 128, 24), render.On)
	require.NoError(t, display.PartialUpdate(context.Background(), frame, image.Rect(0, 0, 128, 24)))
	require.Greater(t, arbiter.Stats().Transactions, setupTransactions)
	require.Equal(t, gpio.High, cs.Read())

	require.NoError(t, display.Halt())
}

func TestSimulatedDisplayRecordsFrames(t *testing.T) {
	arbiter := bus.NewArbiter("sim", SimulatedBus{})
	dev, err := arbiter.Device("panel", nil)
	require.NoError(t, err)

	display := NewSimulatedDisplay(dev, 128, 64)
	changes := 0
	display.OnChange(func() { changes++ })

	frame := image.NewGray(display.Bounds())
	require.ErrorIs(t, display.Update(context.Background(), frame), ErrDisplayNotSetup)

	require.NoError(t, display.Reset(context.Background()))
	require.NoError(t, display.Setup(context.Background(), render.LUTFast))
	render.Fill(frame, frame.Bounds(), render.On)
	require.NoError(t, display.PartialUpdate(context.Background(), frame, image.Rect(0, 0, 128, 24)))

	updates, partials := display.Counts()
	require.Equal(t, 0, updates)
	require.Equal(t, 1, partials)
	require.Equal(t, 1, changes)

	img := display.Image()
	r, _, _, _ := img.At(5, 5).RGBA()
	require.Equal(t, uint32(0xffff), r)
	r, _, _, _ = img.At(5, 40).RGBA()
	require.Equal(t, uint32(0), r)

	require.Equal(t, uint64(1), arbiter.Stats().Transactions)
}

func TestSimulatedRadioFailsThenJoins(t *testing.T) {
	arbiter := bus.NewArbiter("sim", SimulatedBus{})
	dev, err := arbiter.Device("radio", nil)
	require.NoError(t, err)

	radio := NewSimulatedRadio(dev, 2, 0)
	creds := netlink.Credentials{SSID: "lab"}
	for i := 0; i < 2; i++ {
		var joinErr *netlink.JoinError
		require.ErrorAs(t, radio.Join(context.Background(), creds), &joinErr)
		require.Equal(t, 3, joinErr.Status)
	}
	require.NoError(t, radio.Join(context.Background(), creds))
	require.Equal(t, uint64(3), arbiter.Stats().Transactions)
}

func TestSimulatedStack(t *testing.T) {
	stack := NewSimulatedStack(netip.MustParsePrefix("192.168.1.42/24"), netip.MustParseAddr("192.168.1.1"), 5*time.Millisecond)
	require.False(t, stack.IsConfigUp())
	config, err := stack.WaitConfigUp(context.Background())
	require.NoError(t, err)
	require.True(t, stack.IsLinkUp())
	require.Equal(t, "192.168.1.42", config.Address.Addr().String())
}

type scriptedWpa struct {
	mu       sync.Mutex
	calls    []string
	states   []string
	failNext string
}

func (s *scriptedWpa) run(ctx context.Context, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, strings.Join(args, " "))
	if args[0] == s.failNext {
		return "FAIL\n", nil
	}
	switch args[0] {
	case "add_network":
		return "0\n", nil
	case "status":
		state := s.states[0]
		if len(s.states) > 1 {
			s.states = s.states[1:]
		}
		return "bssid=00:11:22:33:44:55\nssid=lab\nwpa_state=" + state + "\n", nil
	default:
		return "OK\n", nil
	}
}

func TestWpaRadioJoin(t *testing.T) {
	script := &scriptedWpa{states: []string{"SCANNING", "ASSOCIATING", "COMPLETED"}}
	radio := NewWpaRadio("wlan0", time.Second)
	radio.pollInterval = time.Millisecond
	radio.run = script.run

	require.NoError(t, radio.Join(context.Background(), netlink.Credentials{SSID: "lab", Passphrase: "secret123"}))
	require.Equal(t, []string{
		"add_network",
		`set_network 0 ssid "lab"`,
		`set_network 0 psk "secret123"`,
		"select_network 0",
		"status", "status", "status",
	}, script.calls)

	// The network is reused on the next join.
	script.calls = nil
	require.NoError(t, radio.Join(context.Background(), netlink.Credentials{SSID: "open"}))
	require.Equal(t, `set_network 0 key_mgmt NONE`, script.calls[1])
	require.NotContains(t, script.calls, "add_network")
}

func TestWpaRadioJoinTimeout(t *testing.T) {
	script := &scriptedWpa{states: []string{"4WAY_HANDSHAKE"}}
	radio := NewWpaRadio("wlan0", 20*time.Millisecond)
	radio.pollInterval = time.Millisecond
	radio.run = script.run

	err := radio.Join(context.Background(), netlink.Credentials{SSID: "lab", Passphrase: "wrongpass"})
	var joinErr *netlink.JoinError
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, 7, joinErr.Status)
}

func TestWpaRadioCommandFailure(t *testing.T) {
	script := &scriptedWpa{states: []string{"COMPLETED"}, failNext: "select_network"}
	radio := NewWpaRadio("wlan0", time.Second)
	radio.run = script.run

	err := radio.Join(context.Background(), netlink.Credentials{SSID: "lab"})
	require.EqualError(t, err, "wpa_cli select_network: FAIL")
}

func newTestStack(flags net.Flags, addrs []net.Addr, routes string) *InterfaceStack {
	stack := NewInterfaceStack("wlan0")
	stack.pollInterval = time.Millisecond
	stack.interfaceByName = func(name string) (*net.Interface, error) {
		if name != "wlan0" {
			return nil, errors.New("no such interface")
		}
		return &net.Interface{Name: name, Flags: flags}, nil
	}
	stack.addrs = func(*net.Interface) ([]net.Addr, error) {
		return addrs, nil
	}
	stack.openRoutes = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(routes)), nil
	}
	return stack
}

func TestInterfaceStack(t *testing.T) {
	routes := "Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\n" +
		"wlan0\t00000000\t0101A8C0\t0003\t0\t0\t600\t00000000\n" +
		"wlan0\t0001A8C0\t00000000\t0001\t0\t0\t600\t00FFFFFF\n"

	down := newTestStack(0, []net.Addr{&net.IPNet{IP: net.ParseIP("169.254.3.4"), Mask: net.CIDRMask(16, 32)}}, routes)
	require.False(t, down.IsConfigUp())
	require.False(t, down.IsLinkUp())

	up := newTestStack(net.FlagUp|net.FlagRunning, []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("192.168.1.42"), Mask: net.CIDRMask(24, 32)},
	}, routes)
	require.True(t, up.IsConfigUp())
	require.True(t, up.IsLinkUp())

	config, err := up.WaitConfigUp(context.Background())
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("192.168.1.42/24"), config.Address)
	require.Equal(t, netip.MustParseAddr("192.168.1.1"), config.Gateway)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = down.WaitConfigUp(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type fixedStatus apimodel.Status

func (s fixedStatus) Status() apimodel.Status {
	return apimodel.Status(s)
}

func TestApiStatus(t *testing.T) {
	param, err := config.LoadParam([]byte("api:\n  enabled: true\n  api_key: \"k3y\"\n"))
	require.NoError(t, err)
	sc := &config.ServerConfig{ConfigDir: t.TempDir(), ServerParam: param}

	api := NewApi(sc, fixedStatus{State: "ready", Address: "192.168.1.42", JoinAttempts: 2})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	get := func(path, key string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get("/api/status", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = get("/api/status", "k3y")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st apimodel.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.Equal(t, "192.168.1.42", st.Address)
	require.Equal(t, 2, st.JoinAttempts)

	resp = get("/api/is_alive", "k3y")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg apimodel.ErrorMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	resp.Body.Close()
	require.Equal(t, "Ok", msg.ErrMessage)

	resp = get("/api/nothing", "k3y")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
