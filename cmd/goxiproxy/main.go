// Command goxiproxy runs the transparent TLS-intercepting proxy, or
// pre-populates a root-CA directory via its clone-ca subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oxiproxy/goxiproxy/internal/cert"
	"github.com/oxiproxy/goxiproxy/proxy"
	"github.com/oxiproxy/goxiproxy/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	switch os.Args[1] {
	case "proxy":
		runProxy(os.Args[2:])
	case "clone-ca":
		runCloneCA(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "goxiproxy: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: goxiproxy <proxy|clone-ca> [flags]")
}

type proxyFlags struct {
	addr          string
	port          int
	rootCA        string
	pinnedDomains string
	socks5Server  string
	traceFolder   string
	workers       int
	logLevel      int
}

func runProxy(args []string) {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	cfg := proxyFlags{}
	fs.StringVar(&cfg.addr, "addr", "0.0.0.0", "listen address")
	fs.StringVar(&cfg.addr, "b", "0.0.0.0", "listen address (shorthand)")
	fs.IntVar(&cfg.port, "port", 8443, "listen port")
	fs.IntVar(&cfg.port, "p", 8443, "listen port (shorthand)")
	fs.StringVar(&cfg.rootCA, "root-ca", "", "root CA directory (required)")
	fs.StringVar(&cfg.rootCA, "r", "", "root CA directory (shorthand)")
	fs.StringVar(&cfg.pinnedDomains, "pinned-domain", "", "space-separated list of pinned hosts")
	fs.StringVar(&cfg.pinnedDomains, "d", "", "pinned hosts (shorthand)")
	fs.StringVar(&cfg.socks5Server, "socks5-server", "", "upstream SOCKS5 address, host:port (required)")
	fs.StringVar(&cfg.socks5Server, "s", "", "upstream SOCKS5 address (shorthand)")
	fs.StringVar(&cfg.traceFolder, "trace-folder", "", "capture output directory (optional)")
	fs.StringVar(&cfg.traceFolder, "c", "", "capture output directory (shorthand)")
	fs.IntVar(&cfg.workers, "workers", proxy.DefaultWorkers, "worker pool size")
	fs.IntVar(&cfg.workers, "w", proxy.DefaultWorkers, "worker pool size (shorthand)")
	fs.IntVar(&cfg.logLevel, "log-level", 3, "log level: 1 error .. 5 trace")
	fs.IntVar(&cfg.logLevel, "l", 3, "log level (shorthand)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevelToSlog(cfg.logLevel),
		AddSource: cfg.logLevel >= 5,
	})))

	if cfg.rootCA == "" || cfg.socks5Server == "" {
		slog.Error("missing required flags", "need", "--root-ca and --socks5-server")
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	p, err := proxy.New(proxy.Config{
		Addr:          cfg.addr,
		Port:          cfg.port,
		RootCADir:     cfg.rootCA,
		PinnedDomains: splitFields(cfg.pinnedDomains),
		Socks5Addr:    cfg.socks5Server,
		TraceFolder:   cfg.traceFolder,
		Workers:       cfg.workers,
	})
	if err != nil {
		slog.Error("failed to build proxy", "error", err)
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	slog.Info("goxiproxy starting", "version", version.String())
	if err := p.Start(); err != nil {
		slog.Error("proxy failed to start", "error", err)
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	if err := p.Close(); err != nil {
		slog.Error("error during shutdown", "error", err)
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}
}

func runCloneCA(args []string) {
	fs := flag.NewFlagSet("clone-ca", flag.ExitOnError)
	var input, output string
	fs.StringVar(&input, "input", "", "input directory of CA .pem files (required)")
	fs.StringVar(&input, "i", "", "input directory (shorthand)")
	fs.StringVar(&output, "output", "", "output directory (required)")
	fs.StringVar(&output, "o", "", "output directory (shorthand)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if input == "" || output == "" {
		slog.Error("missing required flags", "need", "--input and --output")
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}

	if err := cert.CloneDir(input, output); err != nil {
		slog.Error("clone-ca failed", "error", err)
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}
}

// logLevelToSlog maps the CLI's 1 (error) .. 5 (trace) scale onto slog's
// levels; slog has no trace level, so 4 and 5 both map to Debug.
func logLevelToSlog(level int) slog.Level {
	switch level {
	case 1:
		return slog.LevelError
	case 2:
		return slog.LevelWarn
	case 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
