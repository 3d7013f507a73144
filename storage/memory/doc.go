// Package memory provides the single-instance FlowStore and ClientStore.
//
// Pending states and provider codes each live in a ConsumeOnce container: a
// record is removed under the lock before its age is checked, so concurrent
// consumers of the same key get exactly one winner and an entry past its
// lifetime is never honoured even if no sweep has run yet.
//
// The store starts no goroutines. server.StartCleanup calls Sweep on a timer
// to drop abandoned records.
//
//	store := memory.New()
//	srv, _ := server.New(provider, store, store, server.DefaultConfig(), logger)
//	done := srv.StartCleanup(ctx)
//
// Use storage/valkey when more than one replica serves the same issuer.
package memory
