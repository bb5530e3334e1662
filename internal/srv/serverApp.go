package srv

import (
	"context"
	"net/netip"
	"os/exec"
	"sync"
	"time"

	"github.com/jypelle/ipbadge/apimodel"
	"github.com/jypelle/ipbadge/internal/srv/bus"
	"github.com/jypelle/ipbadge/internal/srv/config"
	"github.com/jypelle/ipbadge/internal/srv/device"
	"github.com/jypelle/ipbadge/internal/srv/netlink"
	"github.com/jypelle/ipbadge/internal/srv/render"
	"github.com/jypelle/ipbadge/internal/srv/simwindow"
	"github.com/jypelle/ipbadge/internal/srv/status"
	"github.com/jypelle/ipbadge/internal/version"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	simulatedJoinFailures = 2
	simulatedJoinLatency  = 300 * time.Millisecond
	simulatedDhcpDelay    = time.Second
)

type ServerApp struct {
	*config.ServerConfig

	arbiter        *bus.Arbiter
	displayDevice  render.Panel
	radioDevice    netlink.Radio
	stackDevice    netlink.Stack
	apiDevice      *device.Api
	simulationView *simwindow.Window

	statusChannel *status.Channel
	coordinator   *netlink.Coordinator
	renderLoop    *render.Loop

	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// portTransport lets the arbiter close the SPI port it was connected from.
type portTransport struct {
	spi.Conn
	port spi.PortCloser
}

func (t portTransport) Close() error {
	return t.port.Close()
}

func NewServerApp(configDir string, debugMode bool, simulationMode bool) *ServerApp {
	logrus.Debugf("Creation of ipbadge server %s ...", version.AppVersion.String())

	app := &ServerApp{
		ServerConfig: config.NewServerConfig(configDir, debugMode, simulationMode),
	}
	app.statusChannel = status.NewChannel(app.StatusParam.Capacity)

	if app.SimulationMode {
		app.newSimulatedDevices()
	} else {
		app.newHardwareDevices()
	}

	app.coordinator = netlink.NewCoordinator(
		app.radioDevice,
		app.stackDevice,
		app.statusChannel,
		netlink.Credentials{SSID: app.WifiParam.Ssid, Passphrase: app.WifiParam.Passphrase},
		netlink.Intervals{
			Config: app.NetworkParam.ConfigPollInterval(),
			Link:   app.NetworkParam.LinkPollInterval(),
		},
	)

	app.renderLoop = render.NewLoop(app.displayDevice, app.statusChannel, render.Config{
		Interval: app.DisplayParam.RefreshInterval(),
		LUT:      app.DisplayParam.LUT(),
		Title:    app.DisplayParam.Title,
	})

	if app.ApiParam.Enabled {
		app.apiDevice = device.NewApi(app.ServerConfig, app)
	}

	logrus.Debugln("Server created")

	return app
}

func (s *ServerApp) newHardwareDevices() {
	if _, err := host.Init(); err != nil {
		logrus.Fatalf("Unable to initialize periph host: %v", err)
	}

	displayParam := s.DisplayParam
	spiPort, err := spireg.Open(displayParam.SpiPort)
	if err != nil {
		logrus.Fatalf("Unable to open spi port %q: %v", displayParam.SpiPort, err)
	}
	spiConn, err := spiPort.Connect(physic.Frequency(displayParam.SpiFrequencyKhz)*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		logrus.Fatalf("Unable to connect to spi port %s: %v", spiPort, err)
	}
	s.arbiter = bus.NewArbiter(spiPort.String(), portTransport{Conn: spiConn, port: spiPort})

	var cs gpio.PinOut
	if displayParam.CsPin != "" {
		cs = mustPin("cs", displayParam.CsPin)
	}
	var reset gpio.PinOut
	if displayParam.ResetPin != "" {
		reset = mustPin("reset", displayParam.ResetPin)
	}
	displayBusDevice, err := s.arbiter.Device("display", cs)
	if err != nil {
		logrus.Fatalf("Unable to register display on %s: %v", s.arbiter, err)
	}
	s.displayDevice = device.NewDisplay(displayBusDevice.Port(), mustPin("dc", displayParam.DcPin), reset, displayParam.Width, displayParam.Height)

	s.radioDevice = device.NewWpaRadio(s.WifiParam.Interface, s.WifiParam.JoinTimeout())
	s.stackDevice = device.NewInterfaceStack(s.WifiParam.Interface)
}

func (s *ServerApp) newSimulatedDevices() {
	s.arbiter = bus.NewArbiter("sim-spi", device.SimulatedBus{})

	displayBusDevice, err := s.arbiter.Device("display", nil)
	if err != nil {
		logrus.Fatalf("Unable to register display on %s: %v", s.arbiter, err)
	}
	radioBusDevice, err := s.arbiter.Device("radio", nil)
	if err != nil {
		logrus.Fatalf("Unable to register radio on %s: %v", s.arbiter, err)
	}

	s.displayDevice = device.NewSimulatedDisplay(displayBusDevice, s.DisplayParam.Width, s.DisplayParam.Height)
	s.radioDevice = device.NewSimulatedRadio(radioBusDevice, simulatedJoinFailures, simulatedJoinLatency)
	s.stackDevice = device.NewSimulatedStack(
		netip.MustParsePrefix("192.168.1.42/24"),
		netip.MustParseAddr("192.168.1.1"),
		simulatedDhcpDelay,
	)
}

func mustPin(role string, name string) gpio.PinIO {
	pin := gpioreg.ByName(name)
	if pin == nil {
		logrus.Fatalf("Failed to find %s pin %s", role, name)
	}
	return pin
}

func (s *ServerApp) Start() {
	logrus.Printf("Starting ipbadge server ...")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if simDisplay, ok := s.displayDevice.(*device.SimulatedDisplay); ok {
		s.simulationView = simwindow.Open(simDisplay.Bounds(), simDisplay.Image)
		simDisplay.OnChange(s.simulationView.Invalidate)
	}

	s.tasks.Add(2)
	go func() {
		defer s.tasks.Done()
		if err := s.renderLoop.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("Render loop stopped: %v", err)
		}
	}()
	go func() {
		defer s.tasks.Done()
		if err := s.coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("Connectivity coordinator stopped: %v", err)
		}
	}()

	if s.apiDevice != nil {
		s.apiDevice.Start()
	}
}

func (s *ServerApp) Stop(halt bool) {
	logrus.Printf("Stopping ipbadge server ...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if s.apiDevice != nil {
		s.apiDevice.Stop(shutdownCtx)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.tasks.Wait()

	if halter, ok := s.displayDevice.(interface{ Halt() error }); ok {
		if err := halter.Halt(); err != nil {
			logrus.Warnf("Unable to blank display: %v", err)
		}
	}
	if s.simulationView != nil {
		s.simulationView.Close()
	}
	if err := s.arbiter.Close(shutdownCtx); err != nil {
		logrus.Warnf("Unable to close bus %s: %v", s.arbiter, err)
	}

	logrus.Printf("Server stopped")

	if halt {
		logrus.Printf("System halt")
		haltCmd := exec.Command("sudo", "halt")
		err := haltCmd.Run()
		if err != nil {
			logrus.Panicf("Unable to halt the system: %v", err)
		}
	}
}

func (s *ServerApp) Status() apimodel.Status {
	latest := s.statusChannel.Latest()
	rendered := s.renderLoop.State()
	netConfig := s.coordinator.Config()

	st := apimodel.Status{
		State:           s.coordinator.State().String(),
		Ssid:            s.WifiParam.Ssid,
		Address:         latest.Text,
		JoinAttempts:    s.coordinator.Attempts(),
		PublishedAt:     latest.PublishedAt,
		DisplayedText:   rendered.Text,
		Frames:          rendered.Frames,
		FrameFailures:   rendered.Failures,
		BusTransactions: s.arbiter.Stats().Transactions,
		Version:         version.AppVersion.String(),
	}
	if netConfig.Gateway.IsValid() {
		st.Gateway = netConfig.Gateway.String()
	}
	return st
}
