// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

// atom-inspect runs a scripted kernel workload and prints what the
// kernel recorded about it: thread and port state, capability
// statistics, the tamper-evident audit log, and the IPC trace ring.
//
// The workload exercises every subsystem: threads at mixed priorities,
// port creation with capability delegation (grant and move), cascading
// revocation, shared memory hand-off, batch sends, and a receive that
// times out. Time is driven by explicit ticks, so the output is
// deterministic run to run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/atom-foundation/atom/kernel/cap"
	"github.com/atom-foundation/atom/kernel/config"
	"github.com/atom-foundation/atom/kernel/ipc"
	"github.com/atom-foundation/atom/kernel/syscall"
	"github.com/atom-foundation/atom/kernel/thread"
	"github.com/atom-foundation/atom/lib/clock"
	"github.com/atom-foundation/atom/lib/codec"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var cborOut string

	flagSet := pflag.NewFlagSet("atom-inspect", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to kernel config YAML")
	flagSet.StringVar(&cborOut, "cbor-out", "", "write the trace and audit log as CBOR to this file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clk := clock.Fake(time.Unix(0, 0))
	kernel := syscall.New(clk, logger)

	if err := workload(kernel); err != nil {
		return err
	}
	if err := report(kernel, cfg); err != nil {
		return err
	}
	if cborOut != "" {
		return writeCBOR(kernel, cfg, cborOut)
	}
	return nil
}

// workload drives a fixed scenario through the call surface. Every
// errno is checked: an unexpected failure aborts the run.
func workload(kernel *syscall.Kernel) error {
	check := func(operation string, errno syscall.Errno) error {
		if errno.IsError() {
			return fmt.Errorf("%s failed: %s", operation, errno)
		}
		return nil
	}

	server := kernel.CreateThread("server", thread.PriorityNormal)
	client := kernel.CreateThread("client", thread.PriorityHigh)
	worker := kernel.CreateThread("worker", thread.PriorityLow)

	// Port plus delegation: the server owns the port, the client gets
	// a derived write-only capability to send with.
	port, portCap, errno := kernel.CreatePort(server)
	if err := check("create port", errno); err != nil {
		return err
	}
	if _, errno = kernel.DeriveCapability(server, portCap, client, cap.PermWrite); errno.IsError() {
		return fmt.Errorf("derive port capability: %s", errno)
	}

	// Shared memory hand-off: the client creates a region and sends a
	// zero-copy message referencing it, moving the region capability.
	region, regionCap, errno := kernel.CreateRegion(client, 4096)
	if err := check("create region", errno); err != nil {
		return err
	}
	message := ipc.NewSharedRegionMessage(client, 1, region).WithMove(regionCap)
	if errno = kernel.SendWithCapability(client, port, message); errno.IsError() {
		return fmt.Errorf("delegating send: %s", errno)
	}
	if _, errno = kernel.TryRecv(server, port); errno.IsError() {
		return fmt.Errorf("receive delegating message: %s", errno)
	}

	// Batch traffic.
	batch := make([]ipc.Message, 8)
	for i := range batch {
		batch[i] = ipc.NewMessage(client, uint32(10+i), []byte("ping"))
	}
	if _, errno = kernel.SendBatch(client, port, batch); errno.IsError() {
		return fmt.Errorf("batch send: %s", errno)
	}
	if _, errno = kernel.RecvBatch(server, port, ipc.MaxBatchSize); errno.IsError() {
		return fmt.Errorf("batch receive: %s", errno)
	}

	// A worker blocks on its own derived read capability and times
	// out: visible in the log and in the restored priorities.
	workerPort, workerCap, errno := kernel.CreatePort(client)
	if err := check("create worker port", errno); err != nil {
		return err
	}
	if _, errno = kernel.DeriveCapability(client, workerCap, worker, cap.PermRead); errno.IsError() {
		return fmt.Errorf("derive worker capability: %s", errno)
	}
	done := make(chan syscall.Errno, 1)
	go func() {
		_, errno := kernel.RecvTimeout(context.Background(), worker, workerPort, 30)
		done <- errno
	}()
	for kernel.Ports().Stats().BlockedThreads == 0 {
		select {
		case errno := <-done:
			return fmt.Errorf("worker receive returned early: %s", errno)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	for i := 0; i < 5; i++ {
		kernel.Tick()
	}
	if errno := <-done; errno != syscall.ETimedOut {
		return fmt.Errorf("worker receive: want ETIMEDOUT, got %s", errno)
	}

	// Cascading revocation: dropping the server's root port capability
	// sweeps the client's derived child too.
	if _, errno = kernel.RevokeCapability(server, portCap); errno.IsError() {
		return fmt.Errorf("revoke port capability: %s", errno)
	}
	return nil
}

func report(kernel *syscall.Kernel, cfg *config.Config) error {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)

	threadStats := kernel.Threads().Stats()
	fmt.Fprintf(tw, "THREADS\ttotal=%d\trunning=%d\tready=%d\tblocked=%d\texited=%d\n",
		threadStats.Total, threadStats.Running, threadStats.Ready,
		threadStats.Blocked, threadStats.Exited)

	portStats := kernel.Ports().Stats()
	fmt.Fprintf(tw, "PORTS\tcount=%d\tqueued=%d\tblocked=%d\n",
		portStats.Ports, portStats.QueuedMessages, portStats.BlockedThreads)

	capStats := kernel.Capabilities().Stats()
	fmt.Fprintf(tw, "CAPABILITIES\tlive=%d\n", capStats.Total)

	fmt.Fprintf(tw, "TICKS\t%d\n", kernel.Ticks())
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "TICK\tEVENT\tTHREAD\tCAPABILITY\tPARENT\tTARGET\n")
	entries := kernel.AuditLog(cfg.AuditLimit)
	for _, entry := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%v\t%v\t%v\t%v\n",
			entry.Timestamp, entry.Event, entry.Thread,
			entry.Capability, entry.Parent, entry.Target)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "TIME_MS\tKIND\tPORT\tSENDER\tRECEIVER\tSIZE\n")
	for _, event := range kernel.Trace(cfg.TraceLimit) {
		fmt.Fprintf(tw, "%d\t%s\t%v\t%v\t%v\t%d\n",
			event.TimestampMS, event.Kind, event.Port,
			event.Sender, event.Receiver, event.Size)
	}
	return tw.Flush()
}

// snapshot is the CBOR export shape.
type snapshot struct {
	Ticks uint64           `cbor:"ticks"`
	Audit []cap.AuditEntry `cbor:"audit"`
	Trace []ipc.TraceEvent `cbor:"trace"`
	Ports ipc.Stats        `cbor:"ports"`
}

func writeCBOR(kernel *syscall.Kernel, cfg *config.Config, path string) error {
	data, err := codec.Marshal(snapshot{
		Ticks: kernel.Ticks(),
		Audit: kernel.AuditLog(cfg.AuditLimit),
		Trace: kernel.Trace(cfg.TraceLimit),
		Ports: kernel.Ports().Stats(),
	})
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}
