// Package storage defines the flow and client store interfaces used by the
// authorization server, together with the records they hold.
//
// Two backends are provided: storage/memory for single-instance deployments
// and storage/valkey for deployments where several server replicas must see
// the same state and code records.
package storage
