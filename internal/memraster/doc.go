// Package memraster provides an in-memory implementation of the raster
// Source, Sink and SinkFactory interfaces.
//
// # Purpose
//
// It backs the engine's tests and lets embedding programs run snippets over
// arrays they already hold. A Store doubles as a SinkFactory: every output a
// run creates is kept in the store under its name and can be read back as a
// Source afterwards.
//
// # Concurrency
//
// A Raster guards its pixels with a RWMutex so a finished output may be read
// while other runs write their own rasters. The Store keeps rasters in a
// sync.Map; names are independent keys that are written once and read many
// times.
package memraster
