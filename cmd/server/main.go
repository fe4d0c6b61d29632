package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"

	"github.com/simplenas/nas-gateway/broker"
	"github.com/simplenas/nas-gateway/credentials"
	"github.com/simplenas/nas-gateway/internal/config"
	"github.com/simplenas/nas-gateway/server"
	"github.com/simplenas/nas-gateway/sessions"
	"github.com/simplenas/nas-gateway/tokens"
	"github.com/simplenas/nas-gateway/upstream"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	sessionRepo := sessions.NewFileRepo(c.GetSessionFile())
	tokenRepo := tokens.NewFileRepo(c.GetTokenFile())
	vault := credentials.NewVault()

	nasOptions := []upstream.Option{upstream.WithTimeout(c.GetUpstreamTimeout())}
	if c.GetUpstreamInsecureTLS() {
		nasOptions = append(nasOptions, upstream.WithInsecureTLS())
	}
	nas := upstream.New(c.GetUpstreamBaseURL(), nasOptions...)

	b, err := broker.New(broker.Repos{
		Sessions: sessionRepo,
		Tokens:   tokenRepo,
		Vault:    vault,
	}, nas,
		broker.WithSessionTTL(c.GetSessionTTL()),
		broker.WithTokenTTL(c.GetTokenTTL()),
	)
	if err != nil {
		return fmt.Errorf("broker.New: %w", err)
	}

	stopSweeper := startSweeper(b, c.GetSweepInterval())
	defer stopSweeper()

	httpServer := &http.Server{Addr: c.GetPort(), Handler: server.New(c, b, nas)}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// startSweeper evicts expired records in the background. Lazy eviction on Get
// keeps correctness; the sweeper just keeps the store files from growing.
func startSweeper(b *broker.Broker, interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				sessionsRemoved, tokensRemoved := b.Sweep()
				if sessionsRemoved+tokensRemoved > 0 {
					log.Printf("Sweeper removed %d sessions, %d tokens\n", sessionsRemoved, tokensRemoved)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
