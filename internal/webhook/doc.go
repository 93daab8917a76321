// Package webhook turns Telegram webhook deliveries into stored records.
//
// Each request moves through Received, Parsed, TenantResolved, Persisted and
// Acknowledged. A body that does not decode as an update is rejected with
// 400 before storage is touched; a failure to resolve the tenant or to write
// the record yields 500. Only the final Outcome is visible to the caller.
//
// The record key is the update id and the value is the message text, or
// EmptyMessage when the message has none. Redelivery of the same update
// overwrites the record.
//
// When a Notifier is configured, a successful ingest also sends an
// acknowledgement to the chat in the background. Its result never changes the
// HTTP outcome, and a dedupe cache keeps redeliveries from being acknowledged
// twice.
package webhook
