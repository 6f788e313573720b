// Package account manages the credential lifecycle of user accounts:
// registration with deferred activation, password reset through single use
// keys, and session gating of account actions.
//
// Lifecycle:
//   - Lifecycle runs every mutation that emits an email inside one
//     Repository.RunInTx unit of work. The notification intent is written to
//     an outbox table in the same transaction and handed to the Notifier only
//     after commit, so an intent never outlives a rolled back change.
//   - Activation is idempotent. The persisted activated flag is flipped with a
//     compare-and-set update, so concurrent activations of the same code emit
//     at most one welcome email.
//   - Passwords only change through ChangePassword/ResetPassword. The caller
//     must hold an unexpired reset key or confirm the current password, and
//     the key is cleared in the same unit of work.
//
// Sessions:
//   - SessionGuard consults an explicit action visibility table. Actions not
//     listed are private. A reset key binding created by BindTemporary only
//     grants the password change actions; it is not a login.
//
// Errors:
//   - Lookup misses, authorization failures and fatal store errors are
//     go-errors rich errors, see IsNotFound, IsUnauthorized and IsFatal.
//     Attribute validation failures are returned as data in Result.Errors.
//
// Activity sinks:
//   - ActivitySink receives best-effort lifecycle events (registration,
//     activation, reset requests, password changes, logins). Errors are
//     logged and never fail the operation.
package account
