// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs, CORS and static assets from the public
// directory, followed by the catch-all package route. Diagnostics under /-/
// bypass the package route so that internal/server/routes can mount them.
// Keep exports narrow and accept explicit dependencies.
package server
