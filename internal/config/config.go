package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConsoleRevision names a motherboard generation. It decides the PCI
// bridge's config-space personality and which HANA baseline the SMC loads.
type ConsoleRevision string

const (
	RevisionXenon      ConsoleRevision = "xenon"
	RevisionZephyr     ConsoleRevision = "zephyr"
	RevisionFalcon     ConsoleRevision = "falcon"
	RevisionJasper     ConsoleRevision = "jasper"
	RevisionTrinity    ConsoleRevision = "trinity"
	RevisionCorona     ConsoleRevision = "corona"
	RevisionCorona4GB  ConsoleRevision = "corona4gb"
	RevisionWinchester ConsoleRevision = "winchester"
)

// Valid reports whether the revision names a known board.
func (r ConsoleRevision) Valid() bool {
	switch r {
	case RevisionXenon, RevisionZephyr, RevisionFalcon, RevisionJasper,
		RevisionTrinity, RevisionCorona, RevisionCorona4GB, RevisionWinchester:
		return true
	}
	return false
}

// Slim reports whether the board is a slim-generation console, which selects
// the slim HANA baseline.
func (r ConsoleRevision) Slim() bool {
	switch r {
	case RevisionTrinity, RevisionCorona, RevisionCorona4GB, RevisionWinchester:
		return true
	}
	return false
}

// BridgeRevisionID is the PCI bridge config-space revision byte for the
// board generation.
func (r ConsoleRevision) BridgeRevisionID() uint8 {
	switch r {
	case RevisionXenon:
		return 0x02
	case RevisionZephyr, RevisionFalcon, RevisionJasper, RevisionTrinity:
		return 0x60
	default:
		return 0x90
	}
}

// HANAFingerprint is the value stamped into HANA register 0xFE, or zero to
// keep the baseline default.
func (r ConsoleRevision) HANAFingerprint() uint8 {
	switch r {
	case RevisionXenon:
		return 0x01
	case RevisionFalcon, RevisionJasper:
		return 0x21
	case RevisionTrinity, RevisionCorona, RevisionCorona4GB, RevisionWinchester:
		return 0x23
	}
	return 0 // Zephyr keeps the image default
}

// SMCOptions configures the system management controller.
type SMCOptions struct {
	UARTSystem    string `yaml:"uartSystem"`
	SocketIP      string `yaml:"socketIp"`
	SocketPort    int    `yaml:"socketPort"`
	COMPort       string `yaml:"comPort"`
	AVPackType    uint8  `yaml:"avPackType"`
	PowerOnReason uint8  `yaml:"powerOnReason"`
	ClockPeriodMs int    `yaml:"clockPeriodMs"`
}

// Config is the machine file.
type Config struct {
	Revision  ConsoleRevision `yaml:"revision"`
	RAMSizeMB uint32          `yaml:"ramSizeMB"`
	SMC       SMCOptions      `yaml:"smc"`
}

// Default is a bootable baseline: a Corona board with 512 MiB and a silent
// UART.
func Default() *Config {
	return &Config{
		Revision:  RevisionCorona,
		RAMSizeMB: 512,
		SMC: SMCOptions{
			UARTSystem:    "null",
			SocketIP:      "127.0.0.1",
			SocketPort:    7000,
			AVPackType:    0x1F,
			PowerOnReason: 0x11,
		},
	}
}

// Load reads a machine file, filling unset fields from Default. The
// XENON_REVISION, XENON_UART and XENON_UART_PORT environment variables are
// applied afterwards and override values from the file. A missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the machine cannot be built from.
func (c *Config) Validate() error {
	if !c.Revision.Valid() {
		return fmt.Errorf("config: unknown console revision %q", c.Revision)
	}
	if c.RAMSizeMB == 0 {
		return fmt.Errorf("config: ram size must be non-zero")
	}
	switch c.SMC.UARTSystem {
	case "", "null", "print", "socket", "vcom":
	default:
		return fmt.Errorf("config: unknown uart system %q", c.SMC.UARTSystem)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XENON_REVISION"); v != "" {
		cfg.Revision = ConsoleRevision(v)
	}
	if v := os.Getenv("XENON_UART"); v != "" {
		cfg.SMC.UARTSystem = v
	}
	if v := os.Getenv("XENON_UART_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SMC.SocketPort = port
		}
	}
}
