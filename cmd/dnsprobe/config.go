// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/miekg/dns"
)

// Config contains the dnsprobe configuration.
type Config struct {
	Server  string
	Proto   string
	Source  string
	Name    string
	Type    string
	Timeout time.Duration
	Workers int
	SNI     string
	Debug   bool
}

// ConfigTOML is the TOML representation of [Config].
//
// Fields are pointers so that we can tell unset keys apart.
type ConfigTOML struct {
	Server  *string `toml:"server"`
	Proto   *string `toml:"proto"`
	Source  *string `toml:"source"`
	Name    *string `toml:"name"`
	Type    *string `toml:"type"`
	Timeout *string `toml:"timeout"`
	Workers *int    `toml:"workers"`
	SNI     *string `toml:"sni"`
	Debug   *bool   `toml:"debug"`
}

// defaultConfig returns the default [Config].
func defaultConfig() Config {
	return Config{
		Server:  "8.8.8.8",
		Proto:   "udp",
		Name:    "dns.google",
		Type:    "A",
		Timeout: 5 * time.Second,
	}
}

func getTOMLVal[T int | string | bool](valPointer *T, defaultVal T) T {
	if valPointer == nil {
		return defaultVal
	}
	return *valPointer
}

// parseTOMLConfig overrides conf with the keys set in configFile.
func parseTOMLConfig(configFile string, conf *Config) error {
	var confTOML ConfigTOML
	if _, err := toml.DecodeFile(configFile, &confTOML); err != nil {
		return fmt.Errorf("dnsprobe: cannot parse config file: %w", err)
	}

	conf.Server = getTOMLVal(confTOML.Server, conf.Server)
	conf.Proto = getTOMLVal(confTOML.Proto, conf.Proto)
	conf.Source = getTOMLVal(confTOML.Source, conf.Source)
	conf.Name = getTOMLVal(confTOML.Name, conf.Name)
	conf.Type = getTOMLVal(confTOML.Type, conf.Type)
	conf.Workers = getTOMLVal(confTOML.Workers, conf.Workers)
	conf.SNI = getTOMLVal(confTOML.SNI, conf.SNI)
	conf.Debug = getTOMLVal(confTOML.Debug, conf.Debug)

	if confTOML.Timeout != nil {
		timeout, err := time.ParseDuration(*confTOML.Timeout)
		if err != nil {
			return fmt.Errorf("dnsprobe: invalid timeout in config file: %w", err)
		}
		conf.Timeout = timeout
	}
	return nil
}

// loadConfig builds the [Config] from the command line arguments.
//
// Flags explicitly set on the command line override the config file.
func loadConfig(args []string, stderr io.Writer) (*Config, error) {
	conf := defaultConfig()
	cli := defaultConfig()
	configFile := ""

	fs := flag.NewFlagSet("dnsprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configFile, "config", "", "TOML config file")
	fs.StringVar(&cli.Server, "server", cli.Server, "Server address, with optional port (e.g. 8.8.8.8:53)")
	fs.StringVar(&cli.Proto, "proto", cli.Proto, "Protocol: udp, tcp, tls, or quic")
	fs.StringVar(&cli.Source, "source", cli.Source, "Local address to send the query from")
	fs.StringVar(&cli.Name, "name", cli.Name, "Domain name to query")
	fs.StringVar(&cli.Type, "type", cli.Type, "Query type (e.g. A, AAAA, MX)")
	fs.DurationVar(&cli.Timeout, "timeout", cli.Timeout, "Timeout for the whole exchange")
	fs.IntVar(&cli.Workers, "workers", cli.Workers, "Blocking worker pool size, 0 for a goroutine per job")
	fs.StringVar(&cli.SNI, "sni", cli.SNI, "TLS server name, defaults to the server address")
	fs.BoolVar(&cli.Debug, "debug", cli.Debug, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("dnsprobe: unexpected arguments: %v", fs.Args())
	}

	if configFile != "" {
		if err := parseTOMLConfig(configFile, &conf); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			conf.Server = cli.Server
		case "proto":
			conf.Proto = cli.Proto
		case "source":
			conf.Source = cli.Source
		case "name":
			conf.Name = cli.Name
		case "type":
			conf.Type = cli.Type
		case "timeout":
			conf.Timeout = cli.Timeout
		case "workers":
			conf.Workers = cli.Workers
		case "sni":
			conf.SNI = cli.SNI
		case "debug":
			conf.Debug = cli.Debug
		}
	})
	return &conf, nil
}

// Errors returned when validating a [Config].
var (
	ErrInvalidProto   = errors.New("dnsprobe: invalid protocol")
	ErrInvalidServer  = errors.New("dnsprobe: invalid server address")
	ErrInvalidSource  = errors.New("dnsprobe: invalid source address")
	ErrInvalidType    = errors.New("dnsprobe: invalid query type")
	ErrInvalidTimeout = errors.New("dnsprobe: invalid timeout")
	ErrInvalidWorkers = errors.New("dnsprobe: invalid number of workers")
)

// probePlan is the validated form of a [Config].
type probePlan struct {
	endpoint netip.AddrPort
	source   netip.Addr
	qtype    uint16
}

// defaultPort returns the default server port for proto.
func defaultPort(proto string) uint16 {
	switch proto {
	case "tls", "quic":
		return 853
	default:
		return 53
	}
}

// plan validates the [Config] and returns the corresponding [probePlan].
func (c *Config) plan() (*probePlan, error) {
	switch c.Proto {
	case "udp", "tcp", "tls", "quic":
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProto, c.Proto)
	}

	p := &probePlan{}
	endpoint, err := netip.ParseAddrPort(c.Server)
	if err != nil {
		addr, err := netip.ParseAddr(c.Server)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidServer, c.Server)
		}
		endpoint = netip.AddrPortFrom(addr, defaultPort(c.Proto))
	}
	p.endpoint = endpoint

	if c.Source != "" {
		source, err := netip.ParseAddr(c.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSource, c.Source)
		}
		p.source = source
	}

	qtype, found := dns.StringToType[strings.ToUpper(c.Type)]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}
	p.qtype = qtype

	if c.Timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Timeout)
	}
	if c.Workers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	return p, nil
}

// serverName returns the TLS server name to use.
func (c *Config) serverName(endpoint netip.AddrPort) string {
	if c.SNI != "" {
		return c.SNI
	}
	return endpoint.Addr().String()
}
