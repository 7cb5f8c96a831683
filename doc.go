// Package lerobot drives SO-100/SO-101 robot arms from a leader arm, a local
// keyboard or remote operators over the network.
//
// # Installation
//
//	go install github.com/gwillem/lerobot-remote/cmd/lerobot@latest
//
// # Usage
//
// First, run setup to detect and calibrate your robot arms:
//
//	lerobot setup
//
// Then pick an input source:
//
//	lerobot teleoperate          # follower mirrors the leader arm
//	lerobot keyboard [--sim]     # drive the follower from this terminal
//	lerobot serve [--sim]        # headless, remote operators connect over WebSocket
//	lerobot remote --url ws://host:8765/ws
//	lerobot events -n 20         # emergency stops, clamps, clients, bus errors
//
// Behavior (loop rate, key layout, safety limits, relay address) is read from
// lerobot.toml; ports and calibration from lerobot.json.
//
// # Packages
//
//   - cmd/lerobot: CLI
//   - pkg/robot: servo bus, arm control, calibration, simulated bus
//   - pkg/teleop: engine, dispatcher and control loop
//   - pkg/safety: absolute and relative goal clamps
//   - pkg/relay: WebSocket/HTTP relay and its client
//   - pkg/input: terminal key hold tracking
//   - pkg/config: lerobot.toml
//   - pkg/journal: SQLite event journal
//   - pkg/logger: zap logging
package lerobot
