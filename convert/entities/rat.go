package entities

import (
	"context"
	"fmt"

	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

// RatType is the API's type discriminator for rat documents.
const RatType = "rats"

// Rats converts rat documents.
var Rats = convert.MustConverter(func() rescue.Rat { return rescue.Rat{Platform: rescue.PlatformUnknown} }, []convert.Field[rescue.Rat]{
	convert.NewField("id", "id",
		func(r rescue.Rat) (any, bool) { return r.ID, r.ID != uuid.Nil },
		func(r *rescue.Rat, v any) error { r.ID = v.(uuid.UUID); return nil },
		convert.WithDecode(toUUID), convert.WithEncode(fromUUID),
		convert.WithTypes(convert.TypeOf[uuid.UUID](), convert.TypeOf[string]())),
	convert.NewField("name", "attributes.name",
		func(r rescue.Rat) (any, bool) { return r.Name, true },
		func(r *rescue.Rat, v any) error { r.Name = v.(string); return nil },
		convert.WithDecode(toString), convert.WithTypes(convert.TypeOf[string]())),
	convert.NewField("platform", "attributes.platform",
		func(r rescue.Rat) (any, bool) { return r.Platform, true },
		func(r *rescue.Rat, v any) error { r.Platform = rescue.ParsePlatform(v.(string)); return nil },
		convert.WithDecode(toString), convert.WithEncode(stringer[rescue.Platform]),
		convert.WithDefault(nil), convert.WithTypes(convert.TypeOf[rescue.Platform]())),
},
	convert.WithPostDecode(checkType[rescue.Rat](RatType)),
	convert.WithPostEncode(stampType[rescue.Rat](RatType)),
)

func checkType[T any](want string) func(context.Context, *T, convert.Document) error {
	return func(_ context.Context, _ *T, doc convert.Document) error {
		if got, ok := doc["type"].(string); ok && got != want {
			return fmt.Errorf("document type %q is not %q", got, want)
		}
		return nil
	}
}

func stampType[T any](typ string) func(context.Context, T, convert.Document) error {
	return func(_ context.Context, _ T, doc convert.Document) error {
		doc["type"] = typ
		return nil
	}
}

// ratRefs decodes a relationship list into rats carrying only identifiers.
func ratRefs(ctx context.Context, v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list of references, got %T", v)
	}
	out := make([]rescue.Rat, 0, len(list))
	for i, item := range list {
		ref, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %d: expected object, got %T", i, item)
		}
		id, err := toUUID(ctx, ref["id"])
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		out = append(out, rescue.Rat{ID: id.(uuid.UUID), Platform: rescue.PlatformUnknown})
	}
	return out, nil
}

func encodeRatRefs(_ context.Context, v any) (any, error) {
	rats, ok := v.([]rescue.Rat)
	if !ok {
		return nil, fmt.Errorf("expected rats, got %T", v)
	}
	out := make([]any, 0, len(rats))
	for _, r := range rats {
		out = append(out, convert.Document{"id": r.ID.String(), "type": RatType})
	}
	return out, nil
}
