// Package bookauth is the authentication, session, and audit core of the
// slotwise booking platform.
//
// The Engine ties together six concerns: argon2id credential storage with a
// strength policy, a k-anonymity breach check, signed access tokens plus
// opaque rotating refresh tokens, an append-only audit log, an abuse
// tracker that derives every throttling and lockout decision from that
// log, and a session guard that binds tokens to the client context they
// were issued to.
//
// Build an engine with the builder:
//
//	engine, err := bookauth.New().
//		WithRedis(client).
//		WithConfig(cfg).
//		WithMailer(mailer).
//		Build()
//
// All operations take a context.Context; attach the caller's network
// identity with WithClientIP and WithUserAgent so abuse tracking, audit
// attribution, and hijack detection see it.
package bookauth
