package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/tinyrange/bios/internal/firmware"
	"github.com/tinyrange/bios/internal/machine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bootvm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	output := flag.String("o", "", "Write the loaded boot image to this file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <machine.yaml>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Boot a simulated component-bus computer and load its boot image.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("machine config required")
	}

	cfg, err := machine.LoadConfig(flag.Arg(0))
	if err != nil {
		return err
	}

	m, loader, err := machine.NewFromConfig(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fw := firmware.New(m, loader, m)
	if err := machine.Boot(ctx, fw); err != nil {
		if errors.Is(err, firmware.ErrCrashed) {
			if msg, ok := m.CrashMessage(); ok {
				return fmt.Errorf("machine halted: %s", msg)
			}
		}
		return err
	}

	image := loader.Image()
	slog.Info("boot image loaded", "size", len(image))

	if *output != "" {
		if err := os.WriteFile(*output, image, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		slog.Info("image written", "path", *output)
	}
	return nil
}
