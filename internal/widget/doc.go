// Package widget renders the client-side glue around the third-party
// scheduling widget.
//
// Two entry points exist:
//   - RenderFooter: the automatic path. Waits the configured delay, then polls
//     for window.Calendly every RetryInterval and opens the popup once.
//   - RenderButton: the manual path. A button whose click handler opens the
//     popup immediately, without delay or readiness polling.
//
// Launcher runs the same delay-then-poll state machine in Go.
package widget
