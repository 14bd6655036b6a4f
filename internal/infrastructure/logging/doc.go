// Package logging sets up the bridge's structured slog output.
//
// Every entry carries service and version fields. Components add their own
// tag with With. Values under keys containing password, token or secret are
// replaced before they are written.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
package logging
