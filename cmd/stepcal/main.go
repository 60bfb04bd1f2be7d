package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cjeanneret/stepcal/internal/config"
	"github.com/cjeanneret/stepcal/internal/console"
	"github.com/cjeanneret/stepcal/internal/debug"
)

// options collects the command line. Zero values mean "use the config file".
type options struct {
	configPath string
	device     string
	baud       int
	backend    string
	debugLevel int
	web        webPortFlag
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	return newCommand(&options{web: webPortFlag{defaultPort: 8080}})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stepcal",
		Short: "stepcal drives a half-stepped motor and calibrates it with an optical interrupter",
		Long: `stepcal drives a four-coil stepper motor in half-step mode and measures its
true steps per revolution with an optical interrupter.

Commands are read one per line from the console (stdin or a serial port):
  status      show calibration state
  calib       measure steps per revolution over three turns
  run [N]     turn N eighths of a revolution (full revolution without N)`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			setupLogger(cfg.Defaults.DebugLevel)
			return run(cmd.Context(), cfg, opts.configPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to config file")
	f.StringVarP(&opts.device, "device", "d", "", "serial device for the console (default: stdin/stdout)")
	f.IntVar(&opts.baud, "baud", console.DefaultBaud, "serial baud rate")
	f.StringVar(&opts.backend, "gpio", "", "GPIO backend: rpio, periph or mock")
	f.IntVarP(&opts.debugLevel, "debug", "v", 0, "debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")
	f.Var(&opts.web, "web", "start web server on port; --web for default 8080, --web=8980 for custom port")
	f.Lookup("web").NoOptDefVal = strconv.Itoa(opts.web.defaultPort)

	cmd.AddCommand(newPortsCommand())

	return cmd
}

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports usable with --device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := console.SerialPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("No serial ports found")
				return nil
			}
			for _, p := range ports {
				cmd.Println(p)
			}
			return nil
		},
	}
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Console.Device = opts.device
	}
	if f.Changed("baud") {
		cfg.Console.Baud = opts.baud
	}
	if f.Changed("gpio") {
		cfg.Defaults.GPIOBackend = opts.backend
	}
	if f.Changed("debug") {
		cfg.Defaults.DebugLevel = opts.debugLevel
	}
	if f.Changed("web") {
		cfg.Defaults.WebPort = opts.web.port()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid option: %w", err)
	}
	return cfg, nil
}

func setupLogger(level int) {
	debug.Init(level)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		debug.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}
}

// webPortFlag implements pflag.Value for --web: 0 = disabled, --web → 8080, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }
