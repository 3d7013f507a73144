// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is wire-compatible with Redis. Using it instead of the in-memory
// store lets several server replicas share pending authorization states,
// authorization codes and registered clients.
//
// # Key Schema
//
// All keys use a configurable prefix (default "mcp:"):
//
//	{prefix}state:{state}      -> JSON(StateRecord)  (TTL = state lifetime)
//	{prefix}code:{code}        -> JSON(CodeRecord)   (TTL = code lifetime)
//	{prefix}client:{clientID}  -> JSON(Client)       (no TTL)
//
// # Single Use
//
// States and codes are consumed with a Lua script that reads and deletes the
// key in one step, so a code can be exchanged at most once across replicas.
// The record's creation time is checked again after it is read; key TTLs only
// bound memory.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "airtable:",
//	})
//
// With TLS and encryption at rest:
//
//	key, _ := security.KeyFromBase64(os.Getenv("OAUTH_ENCRYPTION_KEY"))
//	sealer, _ := security.NewSealer(key)
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	    Sealer:   sealer,
//	})
//
// Sealed records hold provider PKCE verifiers, which must not be readable by
// anyone with access to the Valkey instance.
package valkey
