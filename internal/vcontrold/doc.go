// Package vcontrold implements a client for the vcontrold heating daemon.
//
// vcontrold bridges the optolink bus of a Viessmann boiler to a plain text
// TCP protocol. Each request is one CRLF-terminated line, and every response
// ends with a fixed prompt marker (default "vctrld>"). There is no length
// framing, so the prompt is the only frame delimiter.
//
// # Architecture
//
//	┌──────────────┐  execute  ┌──────────────┐  lines   ┌───────────┐
//	│    Device    │──────────►│   channel    │─────────►│ vcontrold │
//	│ Read / Write │           │ lock + retry │◄─────────│  daemon   │
//	└──────────────┘           └──────────────┘  prompt  └───────────┘
//
// Device is the only exported entry point. It owns exactly one connection
// and one channel; nothing outside this package touches the socket.
//
// # Exchange
//
// Every command runs under an exclusive lock:
//
//  1. connect if disconnected (bounded retry with backoff)
//  2. consume any stray prompt; if nothing arrives, send a blank line and
//     read the prompt it produces (resync probe)
//  3. send the command line and read until the prompt
//  4. retry on an empty body, tear down after the last attempt
//
// A body starting with "ERR" tears the session down; the next call
// reconnects transparently. A body starting with "OK" acknowledges a write.
//
// # Example
//
//	dev := vcontrold.New(vcontrold.Config{Host: "192.168.1.20"})
//	defer dev.Close()
//
//	temp, err := dev.ReadFloat(ctx, "getTempA")
//	if err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Device is safe for concurrent use. Commands are serialised; at most one
// command is on the wire at any time.
package vcontrold
