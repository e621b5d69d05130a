// Package votingsession implements delegated voting sessions inside the
// governance context.
//
// A session holds a fixed option list, a creator-managed allow list, direct
// votes and a delegation graph. Writes go through the session registry, which
// serializes operations per session and records each accepted transition in
// an outbox. Tallies are computed on demand by resolving every allowed voter's
// delegation chain.
package votingsession
