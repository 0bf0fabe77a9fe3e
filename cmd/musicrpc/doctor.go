package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/musicrpc/musicrpc/internal/config"
	"github.com/musicrpc/musicrpc/internal/detect"
	"github.com/musicrpc/musicrpc/internal/presence"
)

// discover is swapped in tests.
var discover = presence.Discover

func runDoctor(w io.Writer, cfg *config.Config, cfgPath string, registry *detect.Registry) {
	fmt.Fprintln(w, "MusicRPC doctor")
	fmt.Fprintf(w, "Config file: %s\n", cfgPath)
	fmt.Fprintf(w, "Poll interval: %s\n", cfg.Interval())

	fmt.Fprintln(w, "\nHelpers:")
	for _, tool := range config.LookupTools() {
		if tool.Path == "" {
			fmt.Fprintf(w, "  %s: NOT FOUND (%s)\n", tool.Name, tool.Purpose)
			continue
		}
		fmt.Fprintf(w, "  %s: OK (%s)\n", tool.Name, tool.Path)
	}

	fmt.Fprintln(w, "\nDetectors:")
	for _, d := range registry.Detectors() {
		status := "enabled"
		if !registry.Allowed(d.Name) {
			status = "disabled"
		}
		var caps []string
		if d.Caps.Has(detect.CapElapsed) {
			caps = append(caps, "elapsed")
		}
		if d.Caps.Has(detect.CapArtwork) {
			caps = append(caps, "artwork")
		}
		fmt.Fprintf(w, "  %2d %-12s %-8s %v\n", d.Priority, d.Name, status, caps)
	}

	if names := configuredPlayers(cfg); len(names) > 0 {
		fmt.Fprintln(w, "\nConfigured players:")
		for _, name := range names {
			d, ok := registry.Lookup(name)
			if !ok {
				fmt.Fprintf(w, "  %q: UNKNOWN (matches no detector)\n", name)
				continue
			}
			fmt.Fprintf(w, "  %q: %s\n", name, d.Descriptor().Name)
		}
	}

	fmt.Fprintln(w, "\nDiscord:")
	if !cfg.Discord.Enabled {
		fmt.Fprintln(w, "  presence: DISABLED")
	}
	fmt.Fprintf(w, "  client id: %s\n", cfg.Discord.ClientID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if endpoint, err := discover(ctx); err != nil {
		fmt.Fprintf(w, "  IPC endpoint: NOT FOUND (%v)\n", err)
	} else {
		fmt.Fprintf(w, "  IPC endpoint: OK (%s)\n", endpoint)
	}
}

func configuredPlayers(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Players.Enabled)+len(cfg.Players.Disabled))
	names = append(names, cfg.Players.Enabled...)
	return append(names, cfg.Players.Disabled...)
}
