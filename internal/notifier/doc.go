// Package notifier announces fresh submissions.
//
// A Dispatcher scans a snapshot for records younger than the notification
// window and emits one Event per record it has not announced in the current
// session. Keys are marked in the NotifiedSet before the event reaches the
// sink, so delivery is at most once.
//
// # Sinks
//
// LogSink writes events to the log. Service is an asynchronous sink that
// formats events as HTML and delivers them through a transport.Sender (the
// Telegram adapter) with a bounded queue, a worker pool, rate limiting and
// retries. Multi fans out to several sinks.
//
// # History
//
// For debugging and operator visibility, Service keeps a small in-memory
// history of recently delivered messages.
package notifier
