package config

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/render"
)

//go:embed param_default.yaml
var ParamDefaultFile []byte

type ServerParam struct {
	WifiParam    WifiParam    `yaml:"wifi"`
	NetworkParam NetworkParam `yaml:"network"`
	StatusParam  StatusParam  `yaml:"status"`
	DisplayParam DisplayParam `yaml:"display"`
	ApiParam     ApiParam     `yaml:"api"`
}

type WifiParam struct {
	Ssid          string `yaml:"ssid"`
	Passphrase    string `yaml:"passphrase"`
	Interface     string `yaml:"interface"`
	JoinTimeoutMs int64  `yaml:"join_timeout_ms"`
}

type NetworkParam struct {
	ConfigPollMs int64 `yaml:"config_poll_ms"`
	LinkPollMs   int64 `yaml:"link_poll_ms"`
}

type StatusParam struct {
	Capacity int `yaml:"capacity"`
}

type DisplayParam struct {
	SpiPort         string `yaml:"spi_port"`
	SpiFrequencyKhz int64  `yaml:"spi_frequency_khz"`
	CsPin           string `yaml:"cs_pin"`
	DcPin           string `yaml:"dc_pin"`
	ResetPin        string `yaml:"reset_pin"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	Lut             string `yaml:"lut"`
	RefreshMs       int64  `yaml:"refresh_ms"`
	Title           string `yaml:"title"`
}

type ApiParam struct {
	Enabled bool   `yaml:"enabled"`
	SslPort int64  `yaml:"ssl_port"`
	ApiKey  string `yaml:"api_key"`
}

func (p NetworkParam) ConfigPollInterval() time.Duration {
	return time.Duration(p.ConfigPollMs) * time.Millisecond
}

func (p NetworkParam) LinkPollInterval() time.Duration {
	return time.Duration(p.LinkPollMs) * time.Millisecond
}

func (p WifiParam) JoinTimeout() time.Duration {
	return time.Duration(p.JoinTimeoutMs) * time.Millisecond
}

func (p DisplayParam) RefreshInterval() time.Duration {
	return time.Duration(p.RefreshMs) * time.Millisecond
}

func (p DisplayParam) LUT() render.LUT {
	lut, _ := render.ParseLUT(p.Lut)
	return lut
}

// Validate reports every invalid value at once.
func (sp *ServerParam) Validate() error {
	var errs []error
	if sp.WifiParam.Ssid == "" {
		errs = append(errs, errors.New("wifi.ssid is required"))
	}
	if len(sp.WifiParam.Ssid) > 32 {
		errs = append(errs, fmt.Errorf("wifi.ssid is %d bytes long, max is 32", len(sp.WifiParam.Ssid)))
	}
	if n := len(sp.WifiParam.Passphrase); n != 0 && (n < 8 || n > 63) {
		errs = append(errs, fmt.Errorf("wifi.passphrase must be 8 to 63 characters, got %d", n))
	}
	if sp.WifiParam.Interface == "" {
		errs = append(errs, errors.New("wifi.interface is required"))
	}
	if sp.WifiParam.JoinTimeoutMs < 0 {
		errs = append(errs, errors.New("wifi.join_timeout_ms must be >= 0"))
	}
	if sp.NetworkParam.ConfigPollMs < 0 || sp.NetworkParam.LinkPollMs < 0 {
		errs = append(errs, errors.New("network poll intervals must be >= 0"))
	}
	if sp.StatusParam.Capacity < 0 {
		errs = append(errs, errors.New("status.capacity must be >= 0"))
	}
	if sp.DisplayParam.Width <= 0 || sp.DisplayParam.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size %dx%d is invalid", sp.DisplayParam.Width, sp.DisplayParam.Height))
	}
	if sp.DisplayParam.Height > 0 && sp.DisplayParam.Height < render.StatusBandHeight {
		errs = append(errs, fmt.Errorf("display.height must be at least %d", render.StatusBandHeight))
	}
	if sp.DisplayParam.DcPin == "" {
		errs = append(errs, errors.New("display.dc_pin is required"))
	}
	if _, err := render.ParseLUT(sp.DisplayParam.Lut); err != nil {
		errs = append(errs, fmt.Errorf("display.lut: %w", err))
	}
	if sp.DisplayParam.RefreshMs < 0 {
		errs = append(errs, errors.New("display.refresh_ms must be >= 0"))
	}
	if sp.ApiParam.Enabled {
		if sp.ApiParam.SslPort <= 0 || sp.ApiParam.SslPort > 65535 {
			errs = append(errs, fmt.Errorf("api.ssl_port %d is invalid", sp.ApiParam.SslPort))
		}
		if sp.ApiParam.ApiKey == "" {
			errs = append(errs, errors.New("api.api_key is required when the api is enabled"))
		}
	}
	return errors.Join(errs...)
}
