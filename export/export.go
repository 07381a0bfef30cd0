// Package export runs the osmium command line tool to turn an OSM PBF
// extract into the tagged text format read by the sharder.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultBinary is looked up on PATH.
const DefaultBinary = "osmium"

// ConversionError reports a non-zero exit from osmium together with its
// combined output.
type ConversionError struct {
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("export: conversion failed: %v", e.Err)
	}
	return fmt.Sprintf("export: conversion failed: %v: %s", e.Err, out)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Exporter invokes "osmium export".
type Exporter struct {
	Binary string // DefaultBinary when empty
	Config string // osmium export JSON config
	Logger *slog.Logger
}

// New returns an Exporter using the osmium config at config.
func New(config string) *Exporter {
	return &Exporter{Binary: DefaultBinary, Config: config}
}

// Args returns the command line arguments for converting pbf into txt.
func (e *Exporter) Args(pbf, txt string) []string {
	return []string{"export", "-f", "text", "-c", e.Config, "-O", "-o", txt, pbf}
}

// Export converts pbf into the text file txt, overwriting it, and returns
// txt. A non-zero exit is returned as a *ConversionError.
func (e *Exporter) Export(ctx context.Context, pbf, txt string) (string, error) {
	bin := e.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, bin, e.Args(pbf, txt)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("running osmium", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return "", &ConversionError{Output: out.String(), Err: err}
		}
		return "", fmt.Errorf("export: %w", err)
	}
	return txt, nil
}
