package mdns

import (
	"net"
	"testing"
)

func TestParseTXT(t *testing.T) {
	info := ParseTXT([]string{"name=headset", "TYPE=EEG", "channels=8", "rate=250.5", "format=Float32", "transport=WS", "path=stream", "junk"})
	want := Info{Name: "headset", Type: "EEG", Channels: 8, Rate: 250.5, Format: "float32", Transport: "ws", Path: "stream"}
	if info != want {
		t.Fatalf("got %+v want %+v", info, want)
	}
	if ParseTXT(nil).Transport != TransportTCP {
		t.Fatalf("transport should default to tcp")
	}
}

func TestEligible(t *testing.T) {
	good := Info{Type: "EEG", Channels: 4, Rate: 128, Format: "float32", Transport: TransportTCP}
	if ok, reason := Eligible(good, "eeg"); !ok {
		t.Fatalf("expected eligible, got %s", reason)
	}
	cases := map[string]Info{
		"wrong type":    {Type: "Markers", Channels: 1, Rate: 128, Transport: TransportTCP},
		"irregular":     {Type: "EEG", Channels: 4, Rate: 0, Transport: TransportTCP},
		"string format": {Type: "EEG", Channels: 4, Rate: 128, Format: "string", Transport: TransportTCP},
		"no channels":   {Type: "EEG", Rate: 128, Transport: TransportTCP},
		"bad transport": {Type: "EEG", Channels: 4, Rate: 128, Transport: "udp"},
	}
	for name, info := range cases {
		if ok, reason := Eligible(info, "EEG"); ok || reason == "" {
			t.Fatalf("%s: expected rejection with a reason", name)
		}
	}
	if ok, _ := Eligible(Info{Type: "Markers", Channels: 1, Rate: 1, Transport: TransportTCP}, ""); !ok {
		t.Fatalf("empty type filter should match anything")
	}
}

func TestFilterAndEndpoint(t *testing.T) {
	streams := []Stream{
		{Instance: "a", Hostname: "lab.local.", Port: 7000, Addresses: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.2")},
			Info: Info{Type: "EEG", Channels: 2, Rate: 250, Transport: TransportTCP}},
		{Instance: "b", Hostname: "lab.local.", Port: 7001, Addresses: []net.IP{net.ParseIP("10.0.0.2")},
			Info: Info{Name: "ws-head", Type: "EEG", Channels: 2, Rate: 250, Transport: TransportWebSocket, Path: "stream"}},
		{Instance: "c", Info: Info{Type: "EEG", Rate: 0}},
	}
	kept := Filter(streams, "EEG")
	if len(kept) != 2 {
		t.Fatalf("expected 2 eligible streams, got %d", len(kept))
	}
	if ep, err := kept[0].Endpoint(); err != nil || ep != "10.0.0.2:7000" {
		t.Fatalf("unexpected tcp endpoint %q %v", ep, err)
	}
	if ep, err := kept[1].Endpoint(); err != nil || ep != "ws://10.0.0.2:7001/stream" {
		t.Fatalf("unexpected ws endpoint %q %v", ep, err)
	}
	if kept[0].Name() != "a" || kept[1].Name() != "ws-head" {
		t.Fatalf("unexpected names %q %q", kept[0].Name(), kept[1].Name())
	}
	if _, err := (Stream{Instance: "x"}).Endpoint(); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`headset\ on\ lab`); got != "headset on lab" {
		t.Fatalf("unexpected %q", got)
	}
}
