// Package main hosts the squish CLI entrypoint and command graph.
//
// Each command is a thin wrapper over an internal package: compress drives
// the size-gated conversion engine, convert and ffmpeg run the supplemental
// encoders, deliver reports whether an artifact can be attached, and the
// remaining commands cover dependency status, conversion history, workspace
// cleanup, and configuration scaffolding. Configuration and logger setup are
// resolved once per invocation in commandContext.
package main
