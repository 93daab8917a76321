// Package dedupe remembers recently acknowledged updates so a redelivered
// webhook does not trigger a second acknowledgement message.
package dedupe
