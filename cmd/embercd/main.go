// Command embercd is the daemon entry point: flag parsing, config load,
// conftest, daemonization handshake, and signal handling (spec 6 "CLI",
// "Environment", "Signals").
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/embercd/embercd/irc/config"
	"github.com/embercd/embercd/irc/logger"
	"github.com/embercd/embercd/irc/server"
)

const usage = `embercd.

Usage:
	embercd [--conf <filename>] [--quiet] [--foreground]
	embercd --conftest [--conf <filename>] [--quiet]
	embercd --version
	embercd -h | --help

Options:
	--conf <filename>  Configuration file to use [default: ircd.yaml].
	--conftest         Test the configuration file and exit.
	--foreground       Stay attached to the controlling terminal instead of daemonizing.
	--quiet            Don't show startup/shutdown lines.
	-h --help          Show this screen.
	--version          Show version.
`

// version is stamped at build time in production; left as a plain
// constant here since this core has no build-info wiring of its own.
const version = "embercd-0.1.0"

func main() {
	parsed, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		os.Exit(2)
	}

	configfile, _ := parsed["--conf"].(string)
	if configfile == "" {
		configfile = "ircd.yaml"
	}

	if v, _ := parsed["--version"].(bool); v {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "embercd: could not load config:", err)
		os.Exit(1)
	}

	if conftest, _ := parsed["--conftest"].(bool); conftest {
		fmt.Println("embercd: config OK")
		return
	}

	quiet, _ := parsed["--quiet"].(bool)
	foreground, _ := parsed["--foreground"].(bool)

	if !foreground && os.Getenv(daemonizeEnvVar) == "" {
		code, err := spawnDaemonized(os.Args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "embercd: daemonize:", err)
			os.Exit(1)
		}
		os.Exit(code)
	}

	log, err := logger.NewManager(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "embercd: could not start logger:", err)
		os.Exit(1)
	}
	if !quiet {
		log.Info("startup", fmt.Sprintf("embercd starting, config %s", cfg.Filename()))
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "embercd: could not start server:", err)
		os.Exit(1)
	}

	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			log.Error("startup", err.Error())
		}
		defer os.Remove(cfg.PidFile)
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	go srv.Run()

	if err := notifyParentReady(); err != nil {
		log.Warning("startup", err.Error())
	}

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			srv.RequestRehash()
		case syscall.SIGUSR1:
			srv.RequestMOTDReload()
		case syscall.SIGUSR2:
			srv.RequestBanFileReload()
		case syscall.SIGTERM, syscall.SIGINT:
			srv.Shutdown("Server shutting down")
			return
		}
	}
}

func writePidFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pidfile: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}
