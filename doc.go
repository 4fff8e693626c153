// Package authcore implements the credential and recovery core of an
// application: password authentication, emailed MFA codes, trusted-device
// bypass, single-use verification tokens, password history enforcement, and
// failed-login lockout.
//
// The package is a library, not a service. It defines two collaborator
// interfaces the host application implements: [Store], a typed transactional
// persistence layer, and [Notifier], an out-of-band delivery channel for
// codes and links. Everything else — the [Manager] state machine and the
// components it composes — is constructed once through [New] and is safe for
// concurrent use.
//
// Concurrency is resolved through the Store's transactional guarantees, not
// in-process locking: token redemption is a single compare-and-set, password
// commits run inside one transaction, and lockout state is computed by
// counting the append-only attempt log.
package authcore
