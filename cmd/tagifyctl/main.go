package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/tagify/internal/ctl"
)

func main() {
	app := ctl.NewApp(ctl.DefaultDeps(), os.Stdin, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("tagifyctl: %v", err)
	}
}
