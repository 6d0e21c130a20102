// Package airlock is an authentication-and-proxy gateway for a third-party
// tabular-data API. It issues its own RS256 session tokens while forwarding
// authorized requests upstream through an ordered middleware chain.
//
// Request pipeline:
//   - VerifyToken validates the signature and revocation state of the bearer
//     token, then re-hydrates the live user record from upstream.
//   - AccessFilterEngine applies per-table resolvers to every record in the
//     request and response payloads, concurrently per record.
//   - ProxyClient forwards to the upstream base with the gateway's own
//     credential, decoding gzip/deflate payloads and serving GETs from a
//     short-TTL response cache with coarse path-prefix invalidation.
//
// Auth pipeline:
//   - CheckForExistingUser resolves the username against the upstream user
//     table; Login and Register issue tokens via TokenService with the
//     password column stripped before signing; Logout records an entry in the
//     RevocationStore, the single source of truth for dead tokens.
//
// The gateway is embeddable: construct with New and either Listen directly or
// Mount onto an existing fiber application.
package airlock
