// Command journeyctl is the operator CLI for Journey Hub: schema migrations,
// stage catalog seeding, manual stage updates and API key hashing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
