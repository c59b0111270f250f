package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/robstride/robstride-go/cmd/rsctl/cmd"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Printf("caught %v, shutting down", s)
		cancel()
		// Last resort if a command refuses to wind down.
		<-time.After(15 * time.Second)
		log.Fatal("shutdown deadline exceeded, exiting")
	}()
	cmd.Execute(ctx)
}
