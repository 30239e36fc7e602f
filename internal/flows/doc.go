// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunMigrateLegacy, etc.) accepts a
// typed dependency struct and returns results without side-effects beyond
// those dependencies. The Engine builds the dependency structs once and stays
// thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, token manager, rate
// limiter, user directory, identity provider, audit dispatcher, and metrics.
// They do NOT own any of these resources. Ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authbridge (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
