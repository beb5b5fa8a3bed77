// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing core objects (sessions, events,
// function parts), draining turn streams and recording tool notifications.
// They are not intended for production usage.
package testutil
