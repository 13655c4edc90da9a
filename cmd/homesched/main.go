package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homesched/internal/app"
	"homesched/internal/mcpserver"
	logx "homesched/pkg/logx"
)

func main() {
	var (
		cfgPath string
		mcpMode bool
	)
	flag.StringVar(&cfgPath, "config", "./homesched.yaml", "path to config yaml/json")
	flag.BoolVar(&mcpMode, "mcp", false, "serve MCP tools over stdio")
	flag.Parse()

	if mcpMode {
		// stdout carries protocol frames only.
		logx.SetStdout(os.Stderr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopSIGINT
	if mcpMode {
		served := make(chan error, 1)
		go func() { served <- mcpserver.New(a.Reminders(), logx.NewConsole("INFO")).ServeStdio() }()
		select {
		case err := <-served:
			reason = app.StopMCPClosed
			if err != nil {
				fmt.Fprintln(os.Stderr, "mcp:", err)
			}
		case <-ctx.Done():
		case <-a.Done():
		}
	} else {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
	}
	if reason != app.StopMCPClosed && ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stop(a, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
