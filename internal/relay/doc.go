// Package relay is the command execution relay: it takes a chat request
// through authorization, admission, execution, and delivery.
//
// Per-request state machine:
//
//	Received -> Authorized -> RateChecked -> (ConcurrencyChecked) -> Executing -> Completed | Failed
//	                 \              \                  \
//	                  Rejected       Rejected           Rejected
//
// Rules:
//   - Validation and authorization happen before any admission state changes
//   - Authorization fails closed: with no configured principal every request is refused
//   - Every class spends one token of the shared spawn budget
//   - Constrained tasks also take a Concurrency Guard slot, held for the whole
//     execution and released by the task itself on every exit
//   - Constrained tasks are acknowledged immediately and run detached; their
//     result goes out through the notifier
//   - Failure text is scrubbed of secrets and bounded before it reaches the chat
//   - Every request gets exactly one explanatory reply when rejected or failed
package relay
