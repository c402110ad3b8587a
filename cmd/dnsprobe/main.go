// SPDX-License-Identifier: GPL-3.0-or-later

// Command dnsprobe sends a single DNS query over UDP, TCP, TLS, or QUIC,
// optionally from a pinned source address, and prints the answers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
	"github.com/bassosimone/dnssocket/exchange"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

func main() {
	conf, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(conf.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, conf, logger, os.Stdout); err != nil {
		logger.Error("probe failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// newLogger creates the production [*zap.Logger], at debug level when debug is set.
func newLogger(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return config.Build()
}

// newRuntime creates the [dnssocket.Runtime] for the given number of workers.
//
// The returned function releases the runtime resources.
func newRuntime(workers int) (dnssocket.Runtime, func()) {
	if workers <= 0 {
		return dnssocket.NewNetRuntime(), func() {}
	}
	rt := dnssocket.NewPoolRuntime(workers)
	return rt, func() { rt.Close() }
}

// dnsTransport is the common interface of the [exchange] transports.
type dnsTransport interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
}

// newRawObserver returns an exchange hook that logs raw messages at debug level.
func newRawObserver(logger *zap.Logger, msg string) func([]byte) {
	return func(raw []byte) {
		logger.Debug(msg, zap.Int("size", len(raw)), zap.Binary("raw", raw))
	}
}

// newTransport creates the transport selected by the configuration.
func newTransport(conf *Config, plan *probePlan, rt dnssocket.Runtime, logger *zap.Logger) dnsTransport {
	observeQuery := newRawObserver(logger, "sent raw query")
	observeResp := newRawObserver(logger, "received raw response")

	switch conf.Proto {
	case "udp":
		dt := exchange.NewTransportUDP(rt, plan.endpoint)
		if plan.source.IsValid() {
			dt.LocalAddr = netip.AddrPortFrom(plan.source, 0)
		}
		dt.ObserveRawQuery = observeQuery
		dt.ObserveRawResponse = observeResp
		return dt

	case "tcp":
		dialer := exchange.NewStreamOpenerDialerTCP(rt)
		dialer.LocalAddr = plan.source
		return newStreamTransport(dialer, plan.endpoint, observeQuery, observeResp)

	case "tls":
		config := exchange.NewTLSConfigDNSOverTLS(conf.serverName(plan.endpoint))
		dialer := exchange.NewStreamOpenerDialerTLS(rt, config)
		dialer.LocalAddr = plan.source
		return newStreamTransport(dialer, plan.endpoint, observeQuery, observeResp)

	default:
		dialer := exchange.NewQUICDialer(rt, conf.serverName(plan.endpoint))
		if plan.source.IsValid() {
			dialer.LocalAddr = netip.AddrPortFrom(plan.source, 0)
		}
		dt := exchange.NewTransportQUIC(dialer, plan.endpoint)
		dt.ObserveRawQuery = observeQuery
		dt.ObserveRawResponse = observeResp
		return dt
	}
}

// newStreamTransport creates a stream [*exchange.Transport] with the given hooks.
func newStreamTransport(dialer exchange.StreamOpenerDialer, endpoint netip.AddrPort,
	observeQuery, observeResp func([]byte)) *exchange.Transport {
	dt := exchange.NewTransport(dialer, endpoint)
	dt.ObserveRawQuery = observeQuery
	dt.ObserveRawResponse = observeResp
	return dt
}

// run performs the probe described by conf and prints the answers to stdout.
func run(ctx context.Context, conf *Config, logger *zap.Logger, stdout io.Writer) error {
	plan, err := conf.plan()
	if err != nil {
		return err
	}

	rt, release := newRuntime(conf.Workers)
	defer release()

	dt := newTransport(conf, plan, rt, logger)

	ctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()

	logger.Info("sending query",
		zap.String("proto", conf.Proto),
		zap.Stringer("server", plan.endpoint),
		zap.Stringer("source", plan.source),
		zap.String("name", conf.Name),
		zap.String("type", dns.TypeToString[plan.qtype]),
		zap.Int("workers", conf.Workers),
	)
	query := dnscodec.NewQuery(conf.Name, plan.qtype)
	resp, err := dt.Exchange(ctx, query)
	if err != nil {
		return err
	}

	logger.Info("received response",
		zap.String("rcode", dns.RcodeToString[resp.Response.Rcode]),
		zap.Int("answers", len(resp.Response.Answer)),
		zap.Int("validAnswers", len(resp.ValidRRs)),
	)
	for _, rr := range resp.ValidRRs {
		fmt.Fprintln(stdout, rr.String())
	}
	return nil
}
