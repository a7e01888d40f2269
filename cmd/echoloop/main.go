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

// Command echoloop serves the byte-stream echo protocol from a single
// event-loop thread.
//
// Usage: echoloop [flags] <host>:<port>
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/urpc/echoloop"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("echoloop", flag.ContinueOnError)

	var server echoloop.Server

	var (
		logLevel  = zap.NewAtomicLevelAt(zap.InfoLevel)
		logFormat = fs.String("log-format", "console", "log encoding: console or json")
		logFile   = fs.String("log-file", "", "write logs to this file, rotated, instead of stderr")
	)

	fs.BoolVar(&server.ReusePort, "reuseport", false, "bind with SO_REUSEPORT")
	fs.IntVar(&server.BufferSize, "buffer", echoloop.DefaultBufferSize, "bytes read per readable event")
	fs.IntVar(&server.MaxEvents, "events", echoloop.DefaultMaxEvents, "readiness events fetched per poll")
	fs.TextVar(&server.WriteMode, "write-mode", echoloop.WriteSync, "echo write strategy: sync or buffered")
	fs.BoolVar(&server.NoDelay, "nodelay", false, "disable Nagle's algorithm on connections")
	fs.BoolVar(&server.KeepAlive, "keepalive", false, "enable TCP keep-alive on connections")
	fs.TextVar(&logLevel, "log-level", logLevel, "minimum log level")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "arguments: <host>:<port>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); nil != err {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	logger, err := newLogger(logLevel, *logFormat, *logFile)
	if nil != err {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	server.Addr = fs.Arg(0)
	server.Logger = logger
	server.LockOSThread = true

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		logger.Info("shutting down", zap.Stringer("signal", s))
		if err := server.Close(); nil != err {
			logger.Error("close failed", zap.Error(err))
		}
	}()

	if err = server.Serve(); nil != err && !errors.Is(err, echoloop.ErrServerClosed) {
		logger.Error("server exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(level zap.AtomicLevel, format string, file string) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch format {
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if "" != file {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	return zap.New(zapcore.NewCore(encoder, sink, level)), nil
}
