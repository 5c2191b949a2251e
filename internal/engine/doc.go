// Package engine evaluates a parsed snippet against the arrays bound for one
// tile.
//
// Expressions are HCL expressions evaluated over cty values. Arrays travel
// through the evaluator as an opaque capsule type; operators and built-in
// functions that meet an array apply element-wise with validity masks,
// everything else falls back to plain HCL semantics. Each evaluation starts
// from an empty namespace, so nothing but writer-handle metadata survives
// from one tile to the next.
package engine
