// Package seismic provides the telemetry ingestion pipeline for a
// seismic-sensor monitoring system.
//
// The pipeline accepts raw text streams from two independent transports,
// decodes an ASCII line protocol that multiplexes up to three synchronized
// waveform channels plus environmental metadata, reconstructs per-sample
// timestamps, and fans the decoded samples out to registered subscribers.
//
// # Data flow
//
//	transport adapter → raw chunk → stream decoder → frame grammar (parse)
//	    → per-channel sample lists → timestamp synthesis
//	    → timestamped, channel-tagged samples → subscription registry
//	    → subscriber callbacks
//
// # Packages
//
// Core pipeline:
//   - frame: wire grammar (decode/encode of the line protocol and the
//     structured JSON envelope)
//   - telemetry: canonical Sample model and timestamp synthesis
//   - decoder: per-transport stream decoding pipeline
//   - subscribe: subscriber registry and fan-out
//
// Transports:
//   - transport: shared adapter contract
//   - transport/websocket: push transport over a persistent WebSocket
//   - transport/serial: byte-stream transport over a local serial line
//
// Infrastructure:
//   - natsclient: NATS connection management
//   - output/nats: decoded-batch publisher
//   - simulator: synthetic waveform generation for tests and demos
//   - service: pipeline assembly from configuration (see cmd/seismicd)
//   - component: component lifecycle and discovery contracts
//   - config: configuration loading and validation
//   - metric: Prometheus metrics registry
//   - errors: structured error handling
//
// The pipeline performs no signal processing and no persistence: it only
// decodes transport input into the canonical in-memory representation and
// timestamps it. Historical queries, rendering, and device enumeration are
// external collaborators.
package seismic
