// Command veo-hello drives the host runtime against a simulated worker
// process, for exercising and demonstrating the call/async/transfer paths
// without a real accelerator attached.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	veo "github.com/veoffload/veo-host"
	"github.com/veoffload/veo-host/internal/logging"
	"github.com/veoffload/veo-host/internal/transport"
)

var (
	verbose bool
	dump    bool
)

func main() {
	root := &cobra.Command{
		Use:   "veo-hello",
		Short: "Exercise the VE offload runtime against a simulated worker",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&dump, "dump", false, "print a JSON process snapshot before exiting")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBenchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Call the hello symbol once and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, logger, err := newSimulatedRuntime()
			if err != nil {
				return err
			}
			defer p.ExitProc()

			libhdl, err := p.LoadLibrary("libveohello.so")
			if err != nil {
				return err
			}
			addr, err := p.GetSym(libhdl, "hello")
			if err != nil {
				return err
			}
			result, err := p.CallSync(addr, veo.NewCallArgs())
			if err != nil {
				return err
			}
			logger.Infof("hello returned %d", result)
			fmt.Printf("hello() = %d\n", result)
			return maybeDump(p)
		},
	}
}

func newBenchCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fan out N concurrent async calls and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, metrics, logger, err := newSimulatedRuntime()
			if err != nil {
				return err
			}
			defer p.ExitProc()

			libhdl, err := p.LoadLibrary("libveohello.so")
			if err != nil {
				return err
			}
			addr, err := p.GetSym(libhdl, "hello")
			if err != nil {
				return err
			}

			ctx := p.MainContext()
			ids := make([]uint64, n)
			start := time.Now()
			for i := 0; i < n; i++ {
				id, err := ctx.CallAsync(addr, veo.NewCallArgs())
				if err != nil {
					return err
				}
				ids[i] = id
			}
			for _, id := range ids {
				if _, _, err := ctx.CallWaitResult(id); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)
			logger.Infof("completed %d calls in %s (%.0f calls/s)", n, elapsed, float64(n)/elapsed.Seconds())
			fmt.Printf("%d calls in %s (%.0f calls/s)\n", n, elapsed, float64(n)/elapsed.Seconds())

			snap := metrics.Snapshot()
			fmt.Printf("calls_total=%d call_errors=%d avg_latency=%s max_queue_depth=%d\n",
				snap.CallsTotal, snap.CallErrors, snap.AvgCallLatency, snap.MaxQueueDepth)
			return maybeDump(p)
		},
	}
	cmd.Flags().IntVar(&n, "n", 10000, "number of concurrent async calls")
	return cmd
}

func newSimulatedRuntime() (*veo.Proc, *veo.Metrics, *logging.Logger, error) {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Output: os.Stderr, Format: "text"})
	metrics := veo.NewMetrics()

	sim := transport.NewSimulatorPeer()
	p, err := veo.CreateProc(&veo.ProcOptions{
		Peer:     sim,
		Logger:   logger,
		Observer: metrics,
		NewPeer: func(core int) (transport.Peer, error) {
			return transport.NewSimulatorPeer(), nil
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return p, metrics, logger, nil
}

func maybeDump(p *veo.Proc) error {
	if !dump {
		return nil
	}
	s, err := veo.DumpJSON(p.Snapshot())
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
