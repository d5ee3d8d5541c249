// Package main is Weaver's process entry point: a thin cobra root
// command (`weaver serve`) that loads configuration from the
// environment, wires up internal/weaver.Runtime, and blocks on the MCP
// stdio transport until signaled.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weaver/internal/config"
	"weaver/internal/weaver"
)

const (
	exitOK            = 0
	exitStartupFatal  = 1
	exitRuntimeFailure = 2
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "weaver",
	Short: "Weaver - a local-first neural junction between AI agents and a markdown vault",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(exitStartupFatal)
	}
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.Error("weaver exited with error", zap.Error(err))
		os.Exit(exitCodeFor(err))
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return startupError{err}
	}

	rt, err := weaver.Start(cfg)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return startupError{err}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeStdio(rt.MCP)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		rt.Shutdown()
		return nil
	case err := <-serveErr:
		rt.Shutdown()
		if err != nil {
			logger.Error("MCP transport closed with error", zap.Error(err))
			return runtimeError{err}
		}
		return nil
	}
}

// startupError/runtimeError distinguish spec.md §6's exit code classes
// without cobra's default (always 1) error handling collapsing them.
type startupError struct{ err error }

func (e startupError) Error() string { return e.err.Error() }

type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	switch err.(type) {
	case startupError:
		return exitStartupFatal
	case runtimeError:
		return exitRuntimeFailure
	default:
		return exitStartupFatal
	}
}
