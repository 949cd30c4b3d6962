package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := App().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "jobctl:", err)
		stop()
		os.Exit(1)
	}
}
