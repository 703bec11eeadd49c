package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/bootstrap"
	"github.com/joshyvodetaene/chatual-sub002/client"
	"github.com/joshyvodetaene/chatual-sub002/devserver"
)

func main() {
	var module string
	flag.StringVar(&module, "module", "", "assign run module: devserver, client, init")
	flag.Parse()

	if module == "" {
		fmt.Println("error: module param required! Available: devserver, client, init")
		os.Exit(1)
	}

	fmt.Printf("🚀 Starting Chatual %s...\n", module)

	// 各个组件负责自己的配置加载
	switch module {
	case "devserver":
		s, err := devserver.New()
		if err != nil {
			fmt.Printf("❌ Failed to start devserver: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		if err := s.Run(); err != nil {
			fmt.Printf("❌ Devserver error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal()

	case "client":
		c, err := client.New()
		if err != nil {
			fmt.Printf("❌ Failed to start client: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		if err := c.Run(); err != nil {
			fmt.Printf("❌ Client error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal()

	case "init":
		logger, err := clog.New(&clog.Config{Level: "info", Format: "console", Output: "stdout"})
		if err != nil {
			fmt.Printf("❌ Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		if err := bootstrap.Run(context.Background(), logger); err != nil {
			fmt.Printf("❌ Init error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Printf("❌ Unknown module: %s\n", module)
		fmt.Println("Available modules: devserver, client, init")
		os.Exit(1)
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit

	fmt.Println("👋 Service exiting")
}
