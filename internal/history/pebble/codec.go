package pebble

import (
	"encoding/json"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/history"
)

type requestWire struct {
	At        int64             `json:"at_unix_ms"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Host      string            `json:"host"`
	RealIP    string            `json:"real_ip"`
	Headers   map[string]string `json:"headers,omitempty"`
	Site      string            `json:"site,omitempty"`
	Result    string            `json:"result"`
	IsBrowser bool              `json:"is_browser"`
}

func marshalRequest(id uint64, r history.RequestRecord) ([]byte, error) {
	return json.Marshal(requestWire{
		At:        r.At.UnixMilli(),
		Method:    r.Method,
		URL:       r.URL,
		Host:      r.Host,
		RealIP:    r.RealIP,
		Headers:   r.Headers,
		Site:      r.Site,
		Result:    r.Result,
		IsBrowser: r.IsBrowser,
	})
}

func unmarshalRequest(id uint64, b []byte) (history.RequestRecord, error) {
	var w requestWire
	if err := json.Unmarshal(b, &w); err != nil {
		return history.RequestRecord{}, err
	}
	return history.RequestRecord{
		ID:        id,
		At:        time.UnixMilli(w.At),
		Method:    w.Method,
		URL:       w.URL,
		Host:      w.Host,
		RealIP:    w.RealIP,
		Headers:   w.Headers,
		Site:      w.Site,
		Result:    w.Result,
		IsBrowser: w.IsBrowser,
	}, nil
}

type stateWire struct {
	Site  string `json:"site"`
	State string `json:"state"`
	At    int64  `json:"at_unix_ms"`
}

func marshalState(r history.StateRecord) ([]byte, error) {
	return json.Marshal(stateWire{Site: r.Site, State: r.State, At: r.At.UnixMilli()})
}

func unmarshalState(id uint64, b []byte) (history.StateRecord, error) {
	var w stateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return history.StateRecord{}, err
	}
	return history.StateRecord{ID: id, Site: w.Site, State: w.State, At: time.UnixMilli(w.At)}, nil
}
