/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command tlsrp runs the TLS-terminating reverse proxy: a cobra command
// tree matching the teacher's CLI idiom, with `run` starting the event
// loop and worker pool, `config validate` dry-running the config layer,
// and `version` printing the build stamp.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nabbar/tlsrp/internal/config"
	"github.com/nabbar/tlsrp/internal/control"
	"github.com/nabbar/tlsrp/internal/eventloop"
	"github.com/nabbar/tlsrp/internal/logger"
	"github.com/nabbar/tlsrp/internal/logger/level"
	"github.com/nabbar/tlsrp/internal/metrics"
	"github.com/nabbar/tlsrp/internal/worker"
)

// version is overridden at build time via -ldflags "-X main.version=...",
// matching the teacher's version-stamping convention.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.New(logger.New(level.InfoLevel))

	root := &cobra.Command{
		Use:           "tlsrp",
		Short:         "TLS-terminating reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := cfg.RegisterFlag(root); err != nil {
		root.PrintErrln(err)
	}

	root.AddCommand(newRunCmd(cfg))
	root.AddCommand(newConfigCmd(cfg))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newConfigCmd(cfg *config.Component) *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "configuration commands"}
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "parse and validate the configuration without starting the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	})
	return c
}

func newRunCmd(cfg *config.Component) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Component) error {
	log := logger.New(level.InfoLevel)
	defer log.Close()

	if err := cfg.Init(); err != nil {
		log.Error("config init failed", "error", err)
		return err
	}
	if err := cfg.Start(); err != nil {
		log.Error("config start failed", "error", err)
		return err
	}

	forwards, err := cfg.ResolvedForwards()
	if err != nil {
		log.Error("forward parse failed", "error", err)
		return err
	}

	settings := cfg.Current()

	loop, err := eventloop.Build(eventloop.Config{
		Listen:      settings.Listen,
		Forwards:    forwards,
		TLS:         cfg.TLSConfig(),
		ServerName:  settings.ServerName,
		WorkerCount: settings.WorkerCount,
	}, log)
	if err != nil {
		log.Error("event loop build failed", "error", err)
		return err
	}

	reg := prometheusRegistry()
	m := metrics.New(reg)
	loop.SetMetrics(m)
	go serveMetrics(reg, log)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watchMetrics(runCtx, loop)

	workers := make([]*worker.Worker, settings.WorkerCount)
	for i := range workers {
		fwIdx := 0
		if len(forwards) > 0 {
			fwIdx = i % len(forwards)
		}
		w := worker.New(workerIDOf(i), loop.Slab(), loop.Bus(), log, m, fwIdx)
		workers[i] = w
		go w.Run(runCtx)
	}

	cfg.SetMeta("version", version)
	cfg.SetMeta("started_at", time.Now().UTC().Format(time.RFC3339))

	var ctrl *control.Server
	if settings.ControlPath != "" {
		ctrl, err = control.New(settings.ControlPath, snapshotAdapter{loop}, cfg, log)
		if err != nil {
			log.Warn("control server disabled: bind failed", "error", err)
		} else {
			go ctrl.Serve()
			defer ctrl.Close()
		}
	}

	go watchReload(runCtx, cfg, log)

	return loop.Run(runCtx)
}
