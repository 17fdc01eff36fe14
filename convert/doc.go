// Package convert maps between the API's nested, loosely-typed JSON documents
// and strongly-typed Go values.
//
// A [Mapper] describes one attribute: where it lives in the document (a
// dot-separated path), how it is transformed in each direction, what to use
// when it is absent, and whether it participates in decoding, encoding, both
// or neither. A [Field] binds a Mapper to accessors on a concrete entity type,
// and a [Converter] composes fields into whole-object Decode / Encode plus
// search-criteria encoding.
//
// Converters are declared once per entity type, typically as package-level
// values, and reused:
//
//	var Rats = convert.MustConverter(newRat, []convert.Field[rescue.Rat]{
//		convert.NewField("id", "id", getID, setID, convert.WithDecode(parseUUID)),
//		convert.NewField("name", "attributes.name", getName, setName),
//	})
//
// # Search criteria
//
// [Converter.EncodeSearch] and [Search.Generate] turn a map of criterion
// names to values into the API's query document. Values may be wrapped in
// operator markers ([Not], [AnyOf], [NoneOf], [Contains]) which encode to the
// corresponding "$not", "$in", "$notIn" and "$contains" shapes. Mappers that
// declare accepted types via [WithTypes] reject values (and operands) of any
// other type with a [TypeMismatchError].
package convert
