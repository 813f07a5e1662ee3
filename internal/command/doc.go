// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package command tracks device commands from submission to a single terminal state.

State graph:

	PENDING -> SENT -> ACKNOWLEDGED -> EXECUTING -> EXECUTED
	PENDING -> FAILED | CANCELLED
	SENT -> FAILED | TIMEOUT | CANCELLED
	ACKNOWLEDGED | EXECUTING -> FAILED
	FAILED | TIMEOUT -> RETRY          (only while retries remain)
	RETRY -> SENT | FAILED | CANCELLED

EXECUTED and CANCELLED are always terminal. FAILED and TIMEOUT are terminal once the
dispatcher decides no retry will follow; that decision is stored on the command as
Final before the state is persisted, so a restart can finish an interrupted retry.

Every transition for one command runs under that command's lock: the record is loaded,
changed, persisted, and only then announced on the event bus. Acknowledgement timeouts
and retry delays are timers on the injected clock; when they fire, the work is handed
to the command worker pool.
*/
package command
