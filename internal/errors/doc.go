// Package errors provides structured, actionable errors for operators of
// kestrel: configuration problems, startup failures and CLI misuse.
//
// Protocol errors sent to clients live in pkg/server. This package covers
// everything a human reads on a terminal.
//
// # Error Codes
//
// Each error has a code (e.g., "K101") that maps to a short message and a
// longer explanation:
//   - K1xx: configuration file
//   - K2xx: startup (sockets, runtime directory, log file)
//   - K3xx: command line and diagnostic endpoint
//
// # Usage
//
//	err := errors.New("K102").
//	    WithLocation("/etc/kestrel/config.yaml", 7, 14).
//	    WithDetail("log.level: unknown level \"loud\"").
//	    WithSuggestion("Use one of error, warn, info, debug, trace")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR K102: Invalid configuration value
//	//
//	//   /etc/kestrel/config.yaml:7:14
//	//
//	//      6 │ log:
//	//   →  7 │   level: loud
//	//        │          ^
//	//
//	//   log.level: unknown level "loud"
//	//
//	//   Hint: Use one of error, warn, info, debug, trace
package errors
