// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command proof runs the advisory trace service and its offline tools.
//
// # Commands
//
//   - serve: HTTP API over the trace store (see services/proof/routes)
//   - validate: check a trace JSON file against the schema
//   - seed: print the demo trace, with optional overrides
//   - render: write the HTML memo for a trace file
//
// # Environment Variables
//
// Variables may also be set in a .env file in the working directory (or
// the file named by --env-file). Values already in the environment win.
//
//   - PROOF_PORT: HTTP server port (default: 12310)
//   - PROOF_STORE: store backend - memory, badger, badger-mem, sqlite (default: memory)
//   - PROOF_DATA_DIR: badger and sqlite data directory (default: ./data/proof)
//   - PROOF_LOG_LEVEL: debug, info, warn, error (default: info)
//   - PROOF_ENV: deployment environment reported in telemetry
//   - OTEL_TRACES_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o proof ./cmd/proof
//
//	# Run with a config file, reloading instability settings on change
//	./proof serve --config proof.yaml --watch-config
//
//	# Offline
//	./proof seed --set confidence=high > trace.json
//	./proof validate trace.json
//	./proof render trace.json --out ./memos
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
