// Package bindcache derives cache keys from the identity of the domain objects a
// cached computation depends on, and invalidates them by rotating generation
// tokens instead of scanning or deleting keys.
//
// Components:
//   - Spec / Binding: what a result depends on. Specs (Class, Object, Select, AnyOf,
//     or dynamic input via ParseSpec) normalize into an ordered Binding.
//   - Index: every (class, selector) maps to "INDEX:{class}/{field}={value}", or to
//     the class-wide "INDEX:{class}/*".
//   - Registry: holds one opaque generation token per index, created lazily and
//     replaced on rotation (registry.Store by default, in the backing Provider).
//   - Provider: byte store with an atomic fetch-or-create (Redis, Ristretto,
//     BigCache, Otter).
//
// Keys:
//
//	tok1,tok2,...:<sha256(fingerprint ‖ params)>   cached value
//	<key>:meta                                     etag + last-modified
//
// Flow:
//
//	w, err := cache.Fetch(ctx, bindcache.Object("Widget", 5), req, loadWidget)
//	...
//	_ = cache.Invalidate(ctx, "Widget", 5) // rotates INDEX:Widget/id=5 and INDEX:Widget/*
//
// Old entries are never touched: their keys simply stop being produced and the
// store's own expiry reclaims them.
package bindcache
