// Package util contains helpers that do not belong to a domain package:
// truncation of secrets for logging, URL joining for discovery metadata,
// and scope splitting.
package util
