// Package testutil provides a controllable clock, the RFC 7636 example PKCE
// pair, token fixtures and an HTTP request builder for package tests.
package testutil
