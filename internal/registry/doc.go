// Package registry talks to an npm-compatible registry.
//
// Client performs the raw packument and tarball requests. Resolver layers the
// metadata cache on top of it and answers the two questions the HTTP layer
// needs: which concrete version a range or tag refers to, and what the
// sanitized package.json of that version looks like.
//
// Every failure leaving this package satisfies errors.Is(err, ErrNotFound),
// except context cancellation. Transport failures are reported as
// *UpstreamError so the resolver can avoid negative-caching them.
package registry
