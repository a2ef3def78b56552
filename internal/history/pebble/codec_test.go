package pebble

import (
	"testing"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/history"
)

func TestMarshalUnmarshalRequestRoundTrips(t *testing.T) {
	rec := history.RequestRecord{
		At:        time.Now().Truncate(time.Millisecond),
		Method:    "GET",
		URL:       "/index.html",
		Host:      "example.com",
		RealIP:    "1.2.3.4",
		Headers:   map[string]string{"User-Agent": "test"},
		Site:      "mysite",
		Result:    "proxy_success",
		IsBrowser: true,
	}
	b, err := marshalRequest(7, rec)
	if err != nil {
		t.Fatalf("marshalRequest: %v", err)
	}
	got, err := unmarshalRequest(7, b)
	if err != nil {
		t.Fatalf("unmarshalRequest: %v", err)
	}
	if got.ID != 7 || got.Method != rec.Method || got.Site != rec.Site || got.Result != rec.Result {
		t.Fatalf("got %+v, want fields from %+v", got, rec)
	}
	if !got.At.Equal(rec.At) {
		t.Fatalf("got At %v, want %v", got.At, rec.At)
	}
}

func TestMarshalUnmarshalStateRoundTrips(t *testing.T) {
	rec := history.StateRecord{
		Site:  "mysite",
		State: "up",
		At:    time.Now().Truncate(time.Millisecond),
	}
	b, err := marshalState(rec)
	if err != nil {
		t.Fatalf("marshalState: %v", err)
	}
	got, err := unmarshalState(3, b)
	if err != nil {
		t.Fatalf("unmarshalState: %v", err)
	}
	if got.ID != 3 || got.Site != rec.Site || got.State != rec.State {
		t.Fatalf("got %+v", got)
	}
	if !got.At.Equal(rec.At) {
		t.Fatalf("got At %v, want %v", got.At, rec.At)
	}
}

func TestEncodeDecodeIDRoundTrips(t *testing.T) {
	for _, id := range []uint64{0, 1, 255, 256, 1 << 40} {
		b := encodeID(id)
		if len(b) != 8 {
			t.Fatalf("encodeID(%d): got %d bytes, want 8", id, len(b))
		}
		if got := decodeID(b); got != id {
			t.Fatalf("decodeID(encodeID(%d)) = %d", id, got)
		}
	}
}

func TestKeysPreserveLexicalOrder(t *testing.T) {
	a := reqKey(1)
	b := reqKey(2)
	if string(a) >= string(b) {
		t.Fatalf("expected reqKey(1) < reqKey(2) lexically")
	}
}
