// Package mdns finds sample outlets advertised over DNS-SD.
//
// An outlet advertises _neurosurf._tcp with TXT records describing the
// stream, for example:
//
//	name=headset type=EEG channels=8 rate=250 format=float32 transport=ws path=/stream
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the DNS-SD service type browsed by default.
	Service = "_neurosurf._tcp"
	Domain  = "local."

	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Info is the stream description carried in TXT records.
type Info struct {
	Name      string
	Type      string
	Channels  int
	Rate      float64
	Format    string
	Transport string
	Path      string
}

// Stream is one discovered outlet.
type Stream struct {
	Instance  string // Advertised name: "headset on lab-pc"
	Hostname  string // DNS hostname: "lab-pc.local."
	Addresses []net.IP
	Port      int
	TXT       []string
	Info      Info
}

// ParseTXT decodes key=value TXT records. Unknown keys are ignored and
// malformed numbers are left at zero.
func ParseTXT(txt []string) Info {
	info := Info{Transport: TransportTCP}
	for _, rec := range txt {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			info.Name = value
		case "type":
			info.Type = value
		case "channels":
			info.Channels, _ = strconv.Atoi(value)
		case "rate":
			info.Rate, _ = strconv.ParseFloat(value, 64)
		case "format":
			info.Format = strings.ToLower(value)
		case "transport":
			info.Transport = strings.ToLower(value)
		case "path":
			info.Path = value
		}
	}
	return info
}

// Eligible reports whether a stream can feed a pipeline: it must match
// wantType (case-insensitive, empty matches anything), have a regular rate,
// numeric samples and a known channel count. reason explains a rejection.
func Eligible(info Info, wantType string) (ok bool, reason string) {
	switch {
	case wantType != "" && !strings.EqualFold(info.Type, wantType):
		return false, fmt.Sprintf("type %q is not %q", info.Type, wantType)
	case !(info.Rate > 0):
		return false, "irregular sampling rate"
	case info.Format == "string":
		return false, "string samples"
	case info.Channels <= 0:
		return false, "unknown channel count"
	case info.Transport != TransportTCP && info.Transport != TransportWebSocket:
		return false, fmt.Sprintf("unsupported transport %q", info.Transport)
	}
	return true, ""
}

// Filter keeps the eligible streams.
func Filter(streams []Stream, wantType string) []Stream {
	out := make([]Stream, 0, len(streams))
	for _, s := range streams {
		if ok, _ := Eligible(s.Info, wantType); ok {
			out = append(out, s)
		}
	}
	return out
}

// Name is the stream name, falling back to the instance.
func (s Stream) Name() string {
	if s.Info.Name != "" {
		return s.Info.Name
	}
	return s.Instance
}

// Endpoint returns a dialable address for the first usable IP: host:port
// for tcp outlets and a ws:// URL for WebSocket ones.
func (s Stream) Endpoint() (string, error) {
	host := strings.TrimSuffix(s.Hostname, ".")
	for _, ip := range s.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(s.Addresses) > 0 {
		host = s.Addresses[0].String()
	}
	if host == "" {
		return "", fmt.Errorf("stream %q has no address", s.Instance)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.Port))
	if s.Info.Transport == TransportWebSocket {
		path := s.Info.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return "ws://" + addr + path, nil
	}
	return addr, nil
}

// DiscoverStreams performs a blocking mDNS browse for service (Service when
// empty) until timeout elapses or ctx is done. Results are deduplicated by
// host and port and sorted by instance name.
func DiscoverStreams(ctx context.Context, service string, timeout time.Duration) ([]Stream, error) {
	if service == "" {
		service = Service
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Stream)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				resultMap[key] = Stream{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
					Info:      ParseTXT(e.Text),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Stream, 0, len(resultMap))
	for _, s := range resultMap {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
