// Command puffer is the demo CLI: a listen-and-echo node and a probe
// client wired through internal/transport/quicdgram,
// internal/bundle and internal/session. Adapted
// from the teacher's cmd/web4-node/main.go subcommand-dispatch shape.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"puffer/internal/bundle"
	"puffer/internal/clock"
	"puffer/internal/metrics"
	"puffer/internal/pprofutil"
	"puffer/internal/session"
	"puffer/internal/transport/quicdgram"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "listen":
		return runListen(args[1:], stdout, stderr)
	case "probe":
		return runProbe(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: puffer <listen|probe> [args]")
	fmt.Fprintln(w, "  listen --addr <host:port> [--debug]")
	fmt.Fprintln(w, "  probe  --addr <host:port> [--message text]")
}

func runListen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen addr (host:port)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	if *debug {
		_ = os.Setenv("PUFFER_DEBUG", "1")
	}
	if err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
	}

	listener, err := quicdgram.Listen(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "listen: %v\n", err)
		return 1
	}
	defer listener.Close()
	fmt.Fprintf(stdout, "listening on %s\n", *addr)

	met := metrics.New()
	for {
		ep, err := listener.Accept(context.Background())
		if err != nil {
			fmt.Fprintf(stderr, "accept: %v\n", err)
			return 1
		}
		go serveEndpoint(ep, met, stdout)
	}
}

func serveEndpoint(ep *quicdgram.Endpoint, met *metrics.Metrics, stdout io.Writer) {
	engine := bundle.NewEngine(bundle.Config{}, clock.NewReal(), rand.Reader, met)
	sess := session.New(engine, clock.NewReal(), met)
	sess.OnProbe = func(meta map[uint64][]byte) {
		_ = sess.Announce(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []byte)
	go func() {
		for {
			raw, err := ep.Recv(ctx)
			if err != nil {
				close(inbound)
				return
			}
			inbound <- raw
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			engine.Parse(raw)
			sess.PumpControl()
		case <-ticker.C:
			if out := engine.Flush(); out != nil {
				_ = ep.Send(out)
			}
		}
	}
}

func runProbe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "server addr (host:port)")
	message := fs.String("message", "hello", "payload to send")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ep, err := quicdgram.Dial(ctx, *addr, true)
	if err != nil {
		fmt.Fprintf(stderr, "dial: %v\n", err)
		return 1
	}
	defer ep.Close()

	met := metrics.New()
	engine := bundle.NewEngine(bundle.Config{}, clock.NewReal(), rand.Reader, met)
	engine.Push(bundle.NewPacket([]byte(*message)))
	out := engine.Flush()
	if out == nil {
		fmt.Fprintln(stderr, "nothing to send")
		return 1
	}
	if err := ep.Send(out); err != nil {
		fmt.Fprintf(stderr, "send: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "sent %d bytes\n", len(out))
	return 0
}
