// Package entities declares the converters for the API's rescue, rat and
// quotation documents.
//
// The field declarations are package-level and shared. A rescue converter
// that resolves rat references is built per connection with
// [NewRescueConverter], injecting a [RatResolver] whose cache is seeded from
// the "included" side-channel of responses and which falls back to fetching
// unknown rats on demand.
package entities
