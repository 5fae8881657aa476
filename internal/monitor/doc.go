// Package monitor runs the polling loop of one session.
//
// Each cycle loads settings and the viewer's roster, pulls recent history for
// every account, merges it into the store, prunes old records on every
// cleanup_every-th cycle, saves, and hands fresh records to the notification
// dispatcher. Failures are classified (transient, corrupt_state, config) and
// only change how long the loop sleeps before the next attempt.
package monitor
