// Command agentruntimed starts a Runtime and, when a listen address is
// configured, a distributed Host alongside it: flag-or-default config
// path, signal-driven graceful shutdown, plain log.Printf diagnostics.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tenzoki/agentruntime/distributed"
	"github.com/tenzoki/agentruntime/runtime"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to connection options YAML")
	listen := flag.String("listen", "", "if set, run a distributed host listening on this address")
	queueSize := flag.Int("queue", 256, "runtime envelope queue capacity")
	flag.Parse()

	ctx, cancel := signalContext()
	defer cancel()

	rt := runtime.New(*queueSize)
	if err := rt.Start(ctx); err != nil {
		log.Fatalf("[agentruntimed] failed to start runtime: %v", err)
	}

	var wg sync.WaitGroup

	if *listen != "" {
		listener, err := net.Listen("tcp", *listen)
		if err != nil {
			log.Fatalf("[agentruntimed] failed to listen on %s: %v", *listen, err)
		}
		host := distributed.NewHost(64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[agentruntimed] host listening on %s", *listen)
			if err := host.Serve(listener); err != nil {
				log.Printf("[agentruntimed] host stopped serving: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			_ = listener.Close()
		}()
	} else if *configPath != "" {
		if _, err := os.Stat(*configPath); err == nil {
			opts, err := distributed.LoadConnectionOptions(*configPath)
			if err != nil {
				log.Fatalf("[agentruntimed] failed to load connection options from %s: %v", *configPath, err)
			}
			worker := distributed.NewWorker(*opts, rt)
			if err := worker.Connect(ctx); err != nil {
				log.Fatalf("[agentruntimed] failed to connect worker to %s: %v", opts.HostAddress, err)
			}
			log.Printf("[agentruntimed] worker connected to %s", opts.HostAddress)
			go func() {
				<-ctx.Done()
				_ = worker.Close()
			}()
		} else {
			log.Printf("[agentruntimed] no connection options at %s, running standalone runtime only", *configPath)
		}
	}

	log.Printf("[agentruntimed] runtime started, awaiting shutdown signal")
	<-ctx.Done()
	log.Printf("[agentruntimed] shutdown signal received, stopping")

	rt.StopWhenIdle()
	rt.Wait()
	if err := rt.Close(); err != nil {
		log.Printf("[agentruntimed] error closing agent instances: %v", err)
	}
	wg.Wait()
	log.Printf("[agentruntimed] shutdown complete")
}

func defaultConfigPath() string {
	if path := os.Getenv("AGENTRUNTIME_CONFIG"); path != "" {
		return path
	}
	return "connection.yaml"
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
