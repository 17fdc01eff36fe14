package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

// RescueType is the API's type discriminator for rescue documents.
const RescueType = "rescues"

// Sentinels the API uses in place of an absent deletion reporter or reason.
const (
	NoReporter = "Noone."
	NoReason   = "None."
)

var clientMapper = convert.NewMapper("client", "attributes.client", convert.WithDecode(toString))

var rescueFields = []convert.Field[rescue.Rescue]{
	convert.NewField("id", "id",
		func(r rescue.Rescue) (any, bool) { return r.ID, r.ID != uuid.Nil },
		func(r *rescue.Rescue, v any) error { r.ID = v.(uuid.UUID); return nil },
		convert.WithDecode(toUUID), convert.WithEncode(fromUUID),
		convert.WithDefault(nil), convert.Optional(),
		convert.WithTypes(convert.TypeOf[uuid.UUID](), convert.TypeOf[string]())),
	convert.NewField("client", "attributes.client",
		func(r rescue.Rescue) (any, bool) { return r.Client, true },
		func(r *rescue.Rescue, v any) error { r.Client = v.(string); return nil },
		convert.WithDecode(toString), convert.WithTypes(convert.TypeOf[string]())),
	convert.NewField("system", "attributes.system",
		func(r rescue.Rescue) (any, bool) { return r.System, true },
		func(r *rescue.Rescue, v any) error { r.System = v.(string); return nil },
		convert.WithDecode(toString), convert.WithDefault(nil),
		convert.WithTypes(convert.TypeOf[string]()), convert.Nullable()),
	convert.NewField("irc_nickname", "attributes.data.IRCNick",
		func(r rescue.Rescue) (any, bool) { return r.IRCNick, true },
		func(r *rescue.Rescue, v any) error { r.IRCNick = v.(string); return nil },
		convert.WithDecode(toString), convert.WithFallback(clientMapper),
		convert.WithTypes(convert.TypeOf[string]())),
	convert.NewField("created_at", "attributes.createdAt",
		func(r rescue.Rescue) (any, bool) { return r.CreatedAt, !r.CreatedAt.IsZero() },
		func(r *rescue.Rescue, v any) error { r.CreatedAt = v.(time.Time); return nil },
		convert.WithDecode(timeDecoder(rescueTimeLayout)), convert.WithEncode(timeEncoder(rescueTimeLayout)),
		convert.WithDefault(nil), convert.Optional()),
	convert.NewField("updated_at", "attributes.updatedAt",
		func(r rescue.Rescue) (any, bool) { return r.UpdatedAt, !r.UpdatedAt.IsZero() },
		func(r *rescue.Rescue, v any) error { r.UpdatedAt = v.(time.Time); return nil },
		convert.WithDecode(timeDecoder(rescueTimeLayout)), convert.WithEncode(timeEncoder(rescueTimeLayout)),
		convert.WithDefault(nil), convert.Optional()),
	convert.NewField("title", "attributes.title",
		func(r rescue.Rescue) (any, bool) { return r.Title, r.Title != "" },
		func(r *rescue.Rescue, v any) error { r.Title = v.(string); return nil },
		convert.WithDecode(toString), convert.WithDefault(nil), convert.Optional(),
		convert.WithTypes(convert.TypeOf[string]()), convert.Nullable()),
	convert.NewField("code_red", "attributes.codeRed",
		func(r rescue.Rescue) (any, bool) { return r.CodeRed, true },
		func(r *rescue.Rescue, v any) error { r.CodeRed = v.(bool); return nil },
		convert.WithDecode(toBool), convert.WithDefault(nil),
		convert.WithTypes(convert.TypeOf[bool]())),
	convert.NewField("status", "attributes.status",
		func(r rescue.Rescue) (any, bool) { return r.Status, true },
		func(r *rescue.Rescue, v any) error { r.Status = v.(rescue.Status); return nil },
		convert.WithDecode(decodeStatus), convert.WithEncode(stringer[rescue.Status]),
		convert.WithTypes(convert.TypeOf[rescue.Status]())),
	convert.NewField("outcome", "attributes.outcome",
		func(r rescue.Rescue) (any, bool) {
			if r.Outcome == nil {
				return nil, false
			}
			return *r.Outcome, true
		},
		nil,
		convert.WithEncode(stringer[rescue.Outcome]), convert.WithRetention(convert.WireOnly), convert.Optional(),
		convert.WithTypes(convert.TypeOf[rescue.Outcome]()), convert.Nullable()),
	convert.NewField("platform", "attributes.platform",
		func(r rescue.Rescue) (any, bool) { return r.Platform, true },
		func(r *rescue.Rescue, v any) error { r.Platform = rescue.ParsePlatform(v.(string)); return nil },
		convert.WithDecode(toString), convert.WithEncode(stringer[rescue.Platform]), convert.WithDefault(nil),
		convert.WithTypes(convert.TypeOf[rescue.Platform]()), convert.Nullable()),
	convert.NewField("quotes", "attributes.quotes",
		func(r rescue.Rescue) (any, bool) { return r.Quotes, true },
		func(r *rescue.Rescue, v any) error { r.Quotes = v.([]rescue.Quotation); return nil },
		convert.WithDecode(decodeQuotes), convert.WithEncode(encodeQuotes), convert.WithDefault(nil)),
	convert.NewField("unidentified_rats", "attributes.unidentifiedRats",
		func(r rescue.Rescue) (any, bool) { return r.UnidentifiedRats, true },
		func(r *rescue.Rescue, v any) error { r.UnidentifiedRats = v.([]string); return nil },
		convert.WithDecode(toStrings), convert.WithDefault(nil),
		convert.WithEncode(func(_ context.Context, v any) (any, error) {
			if s, ok := v.([]string); ok && s == nil {
				return []string{}, nil
			}
			return v, nil
		})),
	convert.NewField("first_limpet", "attributes.firstLimpetId",
		func(r rescue.Rescue) (any, bool) { return r.FirstLimpet, r.FirstLimpet != uuid.Nil },
		func(r *rescue.Rescue, v any) error { r.FirstLimpet = v.(uuid.UUID); return nil },
		convert.WithDecode(toUUID), convert.WithEncode(fromUUID), convert.WithDefault(nil), convert.Optional(),
		convert.WithTypes(convert.TypeOf[uuid.UUID](), convert.TypeOf[string]()), convert.Nullable()),
	convert.NewField("board_index", "attributes.data.boardIndex",
		func(r rescue.Rescue) (any, bool) { return r.Index() },
		func(r *rescue.Rescue, v any) error { i := v.(int); r.BoardIndex = &i; return nil },
		convert.WithDecode(toInt), convert.WithDefault(nil), convert.Optional(),
		convert.WithTypes(convert.TypeOf[int]())),
	convert.NewField("mark_for_deletion", "attributes.data.markedForDeletion",
		func(r rescue.Rescue) (any, bool) { return r.MarkForDeletion, true },
		func(r *rescue.Rescue, v any) error { r.MarkForDeletion = v.(rescue.MarkForDeletion); return nil },
		convert.WithDecode(decodeMarkForDeletion), convert.WithEncode(encodeMarkForDeletion), convert.WithDefault(nil)),
	convert.NewField("lang_id", "attributes.data.langID",
		func(r rescue.Rescue) (any, bool) { return r.LangID, true },
		func(r *rescue.Rescue, v any) error { r.LangID = v.(string); return nil },
		convert.WithDecode(toString), convert.WithDefault(nil), convert.WithTypes(convert.TypeOf[string]())),
	convert.NewField("rats", "relationships.rats.data",
		func(r rescue.Rescue) (any, bool) { return r.Rats, true },
		func(r *rescue.Rescue, v any) error { r.Rats = v.([]rescue.Rat); return nil },
		convert.WithDecode(ratRefs), convert.WithEncode(encodeRatRefs), convert.WithDefault(nil),
		convert.WithSearchPath("rats")),
	convert.NewField("epic", "relationships.epics.data",
		nil,
		func(r *rescue.Rescue, v any) error { r.HasEpic = v.(bool); return nil },
		convert.WithDecode(func(_ context.Context, v any) (any, error) {
			list, ok := v.([]any)
			return ok && len(list) > 0, nil
		}),
		convert.WithDefault(false), convert.WithRetention(convert.ModelOnly)),
}

// Rescues converts rescue documents without resolving rat references; rats
// carry identifiers only.
var Rescues = NewRescueConverter(nil)

// NewRescueConverter returns a rescue converter whose post-decode hook
// resolves rat references through resolver. A nil resolver leaves
// references unresolved.
func NewRescueConverter(resolver *RatResolver) *convert.Converter[rescue.Rescue] {
	check := checkType[rescue.Rescue](RescueType)
	return convert.MustConverter(func() rescue.Rescue { return rescue.New("") }, rescueFields,
		convert.WithPostDecode(func(ctx context.Context, r *rescue.Rescue, doc convert.Document) error {
			if err := check(ctx, r, doc); err != nil {
				return err
			}
			if resolver == nil {
				return nil
			}
			for i, ref := range r.Rats {
				rat, err := resolver.Resolve(ctx, ref.ID)
				if err != nil {
					return err
				}
				r.Rats[i] = rat
			}
			return nil
		}),
		convert.WithPostEncode(stampType[rescue.Rescue](RescueType)),
	)
}

func decodeStatus(_ context.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected status string, got %T", v)
	}
	st, ok := rescue.ParseStatus(s)
	if !ok {
		return nil, fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func decodeMarkForDeletion(_ context.Context, v any) (any, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	var m rescue.MarkForDeletion
	if marked, ok := doc["marked"].(bool); ok {
		m.Marked = marked
	}
	if s, ok := doc["reporter"].(string); ok && s != NoReporter {
		m.Reporter = &s
	}
	if s, ok := doc["reason"].(string); ok && s != NoReason {
		m.Reason = &s
	}
	return m, nil
}

func encodeMarkForDeletion(_ context.Context, v any) (any, error) {
	m, ok := v.(rescue.MarkForDeletion)
	if !ok {
		return nil, fmt.Errorf("expected deletion marker, got %T", v)
	}
	reporter, reason := NoReporter, NoReason
	if m.Reporter != nil {
		reporter = *m.Reporter
	}
	if m.Reason != nil {
		reason = *m.Reason
	}
	return convert.Document{"marked": m.Marked, "reporter": reporter, "reason": reason}, nil
}
