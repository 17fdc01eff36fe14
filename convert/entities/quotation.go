package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/rescue"
)

// Quotations converts the entries of a rescue's quote log.
var Quotations = convert.MustConverter(func() rescue.Quotation { return rescue.Quotation{} }, []convert.Field[rescue.Quotation]{
	convert.NewField("message", "message",
		func(q rescue.Quotation) (any, bool) { return q.Message, true },
		func(q *rescue.Quotation, v any) error { q.Message = v.(string); return nil },
		convert.WithDecode(toString)),
	convert.NewField("author", "author",
		func(q rescue.Quotation) (any, bool) { return q.Author, true },
		func(q *rescue.Quotation, v any) error { q.Author = v.(string); return nil },
		convert.WithDecode(toString)),
	convert.NewField("created_at", "createdAt",
		func(q rescue.Quotation) (any, bool) { return q.CreatedAt, true },
		func(q *rescue.Quotation, v any) error { q.CreatedAt = v.(time.Time); return nil },
		convert.WithDecode(timeDecoder(quoteTimeLayout)), convert.WithEncode(timeEncoder(quoteTimeLayout))),
	convert.NewField("updated_at", "updatedAt",
		func(q rescue.Quotation) (any, bool) { return q.UpdatedAt, true },
		func(q *rescue.Quotation, v any) error { q.UpdatedAt = v.(time.Time); return nil },
		convert.WithDecode(timeDecoder(quoteTimeLayout)), convert.WithEncode(timeEncoder(quoteTimeLayout))),
	convert.NewField("last_author", "lastAuthor",
		func(q rescue.Quotation) (any, bool) { return q.LastAuthor, true },
		func(q *rescue.Quotation, v any) error { q.LastAuthor = v.(string); return nil },
		convert.WithDecode(toString), convert.WithDefault(nil)),
})

func decodeQuotes(ctx context.Context, v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list of quotations, got %T", v)
	}
	return Quotations.DecodeAll(ctx, list)
}

func encodeQuotes(ctx context.Context, v any) (any, error) {
	quotes, ok := v.([]rescue.Quotation)
	if !ok {
		return nil, fmt.Errorf("expected quotations, got %T", v)
	}
	out := make([]any, 0, len(quotes))
	for _, q := range quotes {
		doc, err := Quotations.Encode(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
