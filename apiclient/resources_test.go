package apiclient

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/fuelrats/rescue-api-go/transport/transporttest"
	"github.com/google/uuid"
)

var (
	testRat = rescue.Rat{ID: uuid.MustParse("0b1e7a52-3a1c-4f7e-9b0c-55a1d7c0f001"), Name: "Ratty", Platform: rescue.PlatformPC}

	testRescueID = uuid.MustParse("9d3f2b8e-7c61-4b0a-8e2d-1f6a9c4b7e10")
)

func testRescue(client string) rescue.Rescue {
	created := time.Date(2024, 3, 1, 12, 30, 15, 0, time.UTC)
	r := rescue.New(client)
	r.System = "SOL"
	r.Platform = rescue.PlatformPC
	r.CreatedAt = created
	r.UpdatedAt = created
	return r
}

func encodeRescue(t *testing.T, r rescue.Rescue) map[string]any {
	t.Helper()
	doc, err := entities.Rescues.Encode(context.Background(), r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return doc
}

func encodeRat(t *testing.T, r rescue.Rat) map[string]any {
	t.Helper()
	doc, err := entities.Rats.Encode(context.Background(), r)
	if err != nil {
		t.Fatalf("Encode rat: %v", err)
	}
	return doc
}

func TestGetRescuesSearchVerb(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version Version
		verb    string
	}{
		{version: V20, verb: "read"},
		{version: V21, verb: "search"},
	}
	for _, tt := range tests {
		t.Run(tt.version.String(), func(t *testing.T) {
			t.Parallel()

			stored := testRescue("Some Client")
			stored.ID = testRescueID
			stored.Rats = []rescue.Rat{{ID: testRat.ID}}
			stored.FirstLimpet = testRat.ID
			data := encodeRescue(t, stored)
			ratDoc := encodeRat(t, testRat)

			requests := make(chan map[string]any, 1)
			d := transporttest.NewDialer(apiServer(tt.version.Token, func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
				requests <- req
				reply := transporttest.Reply(req, []any{data})
				reply["included"] = []any{ratDoc}
				_ = conn.WriteJSON(ctx, reply)
			}))
			s := New(testEndpoint, tt.version, WithDialer(d), WithLogger(quietLogger()))
			if err := s.Connect(t.Context()); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			t.Cleanup(func() { _ = s.Disconnect(context.Background()) })

			got, err := s.GetRescues(t.Context(), map[string]any{"status": convert.AnyOf(rescue.StatusOpen)})
			if err != nil {
				t.Fatalf("GetRescues: %v", err)
			}

			req := <-requests
			if resource, verb := transporttest.Action(req); resource != ResourceRescues || verb != tt.verb {
				t.Fatalf("action = %s/%s, want rescues/%s", resource, verb, tt.verb)
			}
			want := map[string]any{"$in": []any{"open"}}
			if !reflect.DeepEqual(req["status"], want) {
				t.Fatalf("status criterion = %#v", req["status"])
			}
			if len(got) != 1 || got[0].ID != testRescueID {
				t.Fatalf("rescues = %+v", got)
			}
			// The rat reference resolves from the included documents.
			if len(got[0].Rats) != 1 || got[0].Rats[0] != testRat {
				t.Fatalf("rats = %+v", got[0].Rats)
			}
		})
	}
}

func TestGetRescuesBadCriterion(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(echoServer("v2.1"))
	s := connect(t, d)

	_, err := s.GetRescues(t.Context(), map[string]any{"epic": true})
	var uc *convert.UnknownCriterionError
	if !errors.As(err, &uc) {
		t.Fatalf("GetRescues = %v, want unknown criterion", err)
	}
}

func TestRatResolverFetchesThroughSession(t *testing.T) {
	t.Parallel()

	ratDoc := encodeRat(t, testRat)
	stored := testRescue("Some Client")
	stored.ID = testRescueID
	stored.Rats = []rescue.Rat{{ID: testRat.ID}}
	data := encodeRescue(t, stored)

	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		switch resource, _ := transporttest.Action(req); resource {
		case ResourceRats:
			_ = conn.WriteJSON(ctx, transporttest.Reply(req, ratDoc))
		default:
			_ = conn.WriteJSON(ctx, transporttest.Reply(req, data))
		}
	}))
	s := connect(t, d)

	got, err := s.GetRescueByID(t.Context(), testRescueID)
	if err != nil {
		t.Fatalf("GetRescueByID: %v", err)
	}
	if len(got.Rats) != 1 || got.Rats[0] != testRat {
		t.Fatalf("rats = %+v", got.Rats)
	}
}

func TestGetRescueByIDNotFound(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, []any{}))
	}))
	s := connect(t, d)

	if _, err := s.GetRescueByID(t.Context(), testRescueID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRescueByID = %v, want ErrNotFound", err)
	}
}

func TestCreateRescue(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		data, _ := req["data"].(map[string]any)
		data["id"] = testRescueID.String()
		if attrs, ok := data["attributes"].(map[string]any); ok {
			delete(attrs, "data")
		}
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, data))
	}))
	s := connect(t, d)

	r := testRescue("New Client").WithIndex(4)
	created, err := s.CreateRescue(t.Context(), r)
	if err != nil {
		t.Fatalf("CreateRescue: %v", err)
	}
	if created.ID != testRescueID || created.Client != "New Client" {
		t.Fatalf("created = %+v", created)
	}
	if idx, ok := created.Index(); !ok || idx != 4 {
		t.Fatalf("index = %d, %v", idx, ok)
	}
}

func TestUpdateRescue(t *testing.T) {
	t.Parallel()

	requests := make(chan map[string]any, 1)
	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		requests <- req
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, req["data"]))
	}))
	s := connect(t, d)

	r := testRescue("Some Client")
	if err := s.UpdateRescue(t.Context(), r); !errors.Is(err, ErrMissingID) {
		t.Fatalf("UpdateRescue without id = %v", err)
	}

	r.ID = testRescueID
	r.Status = rescue.StatusInactive
	if err := s.UpdateRescue(t.Context(), r); err != nil {
		t.Fatalf("UpdateRescue: %v", err)
	}
	req := <-requests
	if resource, verb := transporttest.Action(req); resource != ResourceRescues || verb != VerbUpdate {
		t.Fatalf("action = %s/%s", resource, verb)
	}
	if req["id"] != testRescueID.String() {
		t.Fatalf("id = %v", req["id"])
	}
	data, _ := req["data"].(map[string]any)
	attrs, _ := data["attributes"].(map[string]any)
	if attrs["status"] != "inactive" || attrs["client"] != "Some Client" {
		t.Fatalf("attributes = %v", attrs)
	}
}

func TestDeleteRescue(t *testing.T) {
	t.Parallel()

	requests := make(chan map[string]any, 1)
	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		requests <- req
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, nil))
	}))
	s := connect(t, d)

	if err := s.DeleteRescue(t.Context(), uuid.Nil); !errors.Is(err, ErrMissingID) {
		t.Fatalf("DeleteRescue(nil) = %v", err)
	}
	if err := s.DeleteRescue(t.Context(), testRescueID); err != nil {
		t.Fatalf("DeleteRescue: %v", err)
	}
	req := <-requests
	if _, verb := transporttest.Action(req); verb != VerbDelete || req["id"] != testRescueID.String() {
		t.Fatalf("request = %v", req)
	}
}

func TestGetRats(t *testing.T) {
	t.Parallel()

	ratDoc := encodeRat(t, testRat)
	requests := make(chan map[string]any, 1)
	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		requests <- req
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, []any{ratDoc}))
	}))
	s := connect(t, d)

	rats, err := s.GetRats(t.Context(), map[string]any{"name": "Ratty"})
	if err != nil {
		t.Fatalf("GetRats: %v", err)
	}
	if len(rats) != 1 || rats[0] != testRat {
		t.Fatalf("rats = %+v", rats)
	}
	req := <-requests
	if resource, verb := transporttest.Action(req); resource != ResourceRats || verb != "search" {
		t.Fatalf("action = %s/%s", resource, verb)
	}
}
