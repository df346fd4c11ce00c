// Package stateapi defines the typed reduction-state contract shared by stage
// builders, the director, serialization adapters and pipeline consumers.
//
// A stage is described by a Definition: an ordered set of FieldSpecs, a
// ParamMap translating user-facing names to internal field names, cross-field
// Rules and build-time Derivations. Builders populate Fields through the
// ParamMap and emit immutable Records; Records round-trip through the flat
// PropertyMap shape via Record.ToMap and FromMap.
package stateapi
