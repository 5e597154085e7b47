// Package server hosts the Fiber HTTP service that exposes tilehub
// diagnostics. NewApp wires recovery, request id and access log middlewares
// plus JSON error rendering; the routes subpackage registers the /-/ endpoints
// against explicit dependencies so main and tests can share the same wiring.
package server
