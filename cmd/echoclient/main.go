/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command echoclient sends data to an echo server and checks that exactly the
// same bytes come back.
//
// Usage: echoclient [flags] <host>:<port> [message]
//
// Without a message, -bytes of generated data are sent in 10000-byte writes.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chunkSize is the size of each write when sending generated data.
const chunkSize = 10000

var errMismatch = errors.New("echo mismatch")

type options struct {
	addr    string
	payload []byte
	conns   int
	timeout time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("echoclient", flag.ContinueOnError)

	var (
		size    = fs.Int("bytes", 100000, "bytes of generated data to send when no message is given")
		conns   = fs.Int("conns", 1, "number of concurrent connections")
		timeout = fs.Duration("timeout", 30*time.Second, "deadline for each connection")
		verbose = fs.Bool("v", false, "log progress")
	)

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "arguments: <host>:<port> [message]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); nil != err {
		return 2
	}
	if fs.NArg() < 1 || fs.NArg() > 2 || *conns < 1 || *size < 0 {
		fs.Usage()
		return 2
	}

	opts := options{
		addr:    fs.Arg(0),
		conns:   *conns,
		timeout: *timeout,
	}
	if fs.NArg() == 2 {
		opts.payload = []byte(fs.Arg(1))
	} else {
		opts.payload = bytes.Repeat([]byte{'A'}, *size)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	if err := runClients(context.Background(), logger, opts); nil != err {
		logger.Error("echo failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "echoclient:", err)
		return 1
	}

	if fs.NArg() == 2 {
		fmt.Fprintln(stdout, string(opts.payload))
	} else {
		fmt.Fprintf(stdout, "%d connections echoed %d bytes each\n", opts.conns, len(opts.payload))
	}
	return 0
}

// runClients runs opts.conns connections at once; the first failure cancels
// the rest.
func runClients(ctx context.Context, logger *zap.Logger, opts options) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.conns; i++ {
		id := i
		g.Go(func() error {
			return echo(ctx, logger.With(zap.Int("conn", id)), opts)
		})
	}
	return g.Wait()
}

func echo(ctx context.Context, logger *zap.Logger, opts options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", opts.addr)
	if nil != err {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// unblock reads and writes when a sibling fails.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	logger.Debug("connected", zap.Stringer("local", conn.LocalAddr()), zap.Stringer("remote", conn.RemoteAddr()))

	g := new(errgroup.Group)
	g.Go(func() error {
		total := 0
		for total < len(opts.payload) {
			end := min(total+chunkSize, len(opts.payload))
			n, err := conn.Write(opts.payload[total:end])
			total += n
			if nil != err {
				return err
			}
			logger.Debug("wrote", zap.Int("bytes", n), zap.Int("total", total))
		}
		return nil
	})

	got := make([]byte, len(opts.payload))
	_, readErr := io.ReadFull(conn, got)
	if err = g.Wait(); nil != err {
		return fmt.Errorf("write: %w", err)
	}
	if nil != readErr {
		return fmt.Errorf("read: %w", readErr)
	}

	if !bytes.Equal(opts.payload, got) {
		return fmt.Errorf("%w: %d bytes sent", errMismatch, len(opts.payload))
	}
	logger.Debug("echo verified", zap.Int("bytes", len(got)))
	return nil
}
