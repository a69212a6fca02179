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

// Package config owns the proxy's lifecycle the way the teacher's
// config.Component framework owns a service's lifecycle: one object with
// Init/Start/Reload/Stop, flags registered against a cobra.Command, values
// loaded through viper, and the live settings held in an atomic value so a
// SIGHUP reload never races a worker reading the current forward list.
package config

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	libatm "github.com/nabbar/tlsrp/atomic"
	"github.com/nabbar/tlsrp/certificates"
	libctx "github.com/nabbar/tlsrp/context"
	liberr "github.com/nabbar/tlsrp/internal/errors"
	"github.com/nabbar/tlsrp/internal/forward"
	"github.com/nabbar/tlsrp/internal/logger"
	"github.com/nabbar/tlsrp/internal/logger/level"
)

// Settings is everything loaded from flags/file/env, per spec.md §6's
// external interface: forwards, tls_acceptor, listen, control_path,
// worker_count.
type Settings struct {
	Listen      string              `mapstructure:"listen" yaml:"listen" json:"listen"`
	ControlPath string              `mapstructure:"control_path" yaml:"control_path" json:"control_path"`
	ServerName  string              `mapstructure:"server_name" yaml:"server_name" json:"server_name"`
	WorkerCount int                 `mapstructure:"worker_count" yaml:"worker_count" json:"worker_count"`
	Forwards    []string            `mapstructure:"forwards" yaml:"forwards" json:"forwards"`
	TLS         certificates.Config `mapstructure:"tls" yaml:"tls" json:"tls"`
}

// DefaultConfig returns the settings a freshly-initialized Component holds
// before any flag or file is applied.
func DefaultConfig() Settings {
	return Settings{
		Listen:      "0.0.0.0:8443",
		ControlPath: "/var/run/tlsrp.sock",
		WorkerCount: 4,
	}
}

// Component is the single config object the CLI layer builds once and
// hands to the event loop and worker pool at Start.
type Component struct {
	log logger.Logger
	v   *viper.Viper
	cur libatm.Value[Settings]

	// meta carries process-wide ancillary values keyed by name (build
	// version, start time, operator-supplied tags) that are not part of
	// Settings but are worth surfacing on the control endpoint. Backed by
	// the same typed context map the teacher's component registry uses for
	// service lookups, here scoped to a single string-keyed bag per process.
	meta libctx.Config[string]
}

// New returns a Component with DefaultConfig already loaded, so Current
// is always safe to call even before RegisterFlag/Init/Start.
func New(log logger.Logger) *Component {
	c := &Component{
		log:  log,
		v:    viper.New(),
		cur:  libatm.NewValue[Settings](),
		meta: libctx.New[string](context.Background()),
	}
	c.cur.Store(DefaultConfig())

	// cobra and viper log their own internal diagnostics through
	// jwalterweatherman rather than this component's own logger; bridge it
	// here so those messages flow through the same structured sink instead
	// of straight to stdout.
	log.SetSPF13Level(level.WarnLevel, nil)

	return c
}

// SetMeta stores a named ancillary value (e.g. "version", "started_at")
// visible through Meta and the control endpoint's status document.
func (c *Component) SetMeta(key string, val interface{}) {
	c.meta.Store(key, val)
}

// Meta returns every ancillary value currently stored, snapshotted into a
// plain map for JSON encoding by internal/control.
func (c *Component) Meta() map[string]interface{} {
	out := make(map[string]interface{})
	c.meta.Walk(func(key string, val interface{}) bool {
		out[key] = val
		return true
	})
	return out
}

// RegisterFlag binds the settings a user can override on the command
// line, matching the teacher's pattern of one RegisterFlag per
// component so `cmd config validate` and `cmd run` share the same flag
// set.
func (c *Component) RegisterFlag(cmd *cobra.Command) error {
	def := DefaultConfig()

	// Flag names match Settings' mapstructure tags exactly, so BindPFlags
	// alone is enough for Unmarshal to see flag-supplied overrides without
	// any alias bookkeeping.
	flags := cmd.Flags()
	flags.String("listen", def.Listen, "address the TLS listener binds")
	flags.String("control_path", def.ControlPath, "unix socket path for the status endpoint")
	flags.String("server_name", def.ServerName, "SNI server name presented to the TLS acceptor")
	flags.Int("worker_count", def.WorkerCount, "number of worker goroutines")
	flags.StringSlice("forward", nil, "forward target (network address or local-domain path); may be repeated")
	flags.String("config", "", "path to a YAML/JSON/TOML config file")

	return c.v.BindPFlags(flags)
}

// Init loads a config file, if one was named, and sets the defaults a
// missing key falls back to. Layering order, lowest precedence first:
// DefaultConfig, config file, command-line flags (bound in
// RegisterFlag, so viper already prefers them automatically).
func (c *Component) Init() error {
	def := DefaultConfig()
	c.v.SetDefault("listen", def.Listen)
	c.v.SetDefault("control_path", def.ControlPath)
	c.v.SetDefault("worker_count", def.WorkerCount)

	if path := c.v.GetString("config"); path != "" {
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			return liberr.ErrConfigLoad.Error(err)
		}
	}

	return c.apply()
}

// Start makes the loaded settings visible through Current. Present as a
// distinct step from Init, matching the teacher's Init-then-Start split,
// since nothing here actually opens a socket — internal/eventloop and
// internal/control own that.
func (c *Component) Start() error {
	return nil
}

// Reload re-reads the bound config file and atomically swaps Current,
// matching the teacher's Reload contract: an in-flight Current() caller
// never observes a half-updated Settings.
func (c *Component) Reload() error {
	if c.v.ConfigFileUsed() == "" {
		return nil
	}
	if err := c.v.ReadInConfig(); err != nil {
		return liberr.ErrConfigLoad.Error(err)
	}
	return c.apply()
}

// Stop is a no-op: Component owns no resource that needs releasing.
func (c *Component) Stop() error {
	return nil
}

func (c *Component) apply() error {
	s := DefaultConfig()
	if err := c.v.Unmarshal(&s); err != nil {
		return liberr.ErrConfigLoad.Error(err)
	}

	if extra := c.v.GetStringSlice("forward"); len(extra) > 0 {
		s.Forwards = append(s.Forwards, extra...)
	}

	c.cur.Store(s)
	c.log.Info("config applied", "listen", s.Listen, "worker_count", s.WorkerCount, "forwards", len(s.Forwards))
	return nil
}

// Current returns the live settings snapshot. Safe to call concurrently
// with Reload.
func (c *Component) Current() Settings {
	return c.cur.Load()
}

// ResolvedForwards parses the current Settings.Forwards list into
// internal/forward.Forward values, surfacing a coded parse error per
// spec.md §6 instead of a bare fmt error.
func (c *Component) ResolvedForwards() ([]forward.Forward, error) {
	return forward.ParseAll(c.Current().Forwards)
}

// TLSConfig builds a certificates.TLSConfig from the current settings'
// TLS section, the same way the teacher's certificates.Config.New does
// for any service embedding it.
func (c *Component) TLSConfig() certificates.TLSConfig {
	s := c.Current().TLS
	return s.New()
}

// Validate runs a dry Init against cmd without mutating process state
// beyond the Component itself — the `config validate` subcommand's only
// job.
func (c *Component) Validate() error {
	if err := c.Init(); err != nil {
		return err
	}
	if _, err := c.ResolvedForwards(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Current().Listen) == "" {
		return liberr.ErrConfigLoad.Error(nil)
	}
	return nil
}
