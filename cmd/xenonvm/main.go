package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/Xphalnos/Xenon/internal/config"
	"github.com/Xphalnos/Xenon/internal/devices/nand"
	"github.com/Xphalnos/Xenon/internal/iic"
	"github.com/Xphalnos/Xenon/internal/lifecycle"
	"github.com/Xphalnos/Xenon/internal/machine"
)

const flashSize = 64 << 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xenonvm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Machine configuration file (YAML)")
	uart := flag.String("uart", "", "Override the SMC UART system (null, print, socket, vcom)")
	revision := flag.String("revision", "", "Override the console revision")
	pause := flag.Bool("pause", false, "Wait for Enter before starting the machine")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run the Xenon core hardware model.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("startup configuration failed", "err", err)
		return err
	}
	if *uart != "" {
		cfg.SMC.UARTSystem = *uart
	}
	if *revision != "" {
		cfg.Revision = config.ConsoleRevision(*revision)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("startup configuration failed", "err", err)
		return err
	}

	ctrl := iic.NewBlock(nil)
	flash := nand.NewMemFlash(0xC8000000, flashSize)

	m, err := machine.New(cfg, ctrl, flash)
	if err != nil {
		return err
	}

	lifecycle.InstallSignalHandler()

	if *pause {
		pausePrompt()
	}

	m.Start()

	for lifecycle.Running() {
		time.Sleep(100 * time.Millisecond)
	}

	m.Stop()
	return nil
}

// pausePrompt parks the process until the operator acknowledges. A signal
// arriving here force-exits; clean shutdown is not negotiable mid-prompt.
func pausePrompt() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	lifecycle.SetPaused(true)
	fmt.Fprint(os.Stderr, "Press Enter to continue...")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	lifecycle.SetPaused(false)
}
