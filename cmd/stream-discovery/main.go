package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/mdns"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "Browse duration")
	service := flag.String("service", mdns.Service, "DNS-SD service type")
	wantType := flag.String("type", "EEG", "Stream type a pipeline would accept (empty accepts any)")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" Neurosurf stream discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.%s\n", *service, mdns.Domain)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	streams, err := mdns.DiscoverStreams(context.Background(), *service, *timeout)
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(streams) == 0 {
		fmt.Printf("No streams found (%s)\n", elapsed.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d stream(s) in %s\n", len(streams), elapsed.Truncate(time.Millisecond))
	fmt.Println("===============================================================")

	for i, s := range streams {
		fmt.Printf(" Stream #%d: %s\n", i+1, s.Name())
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance  : %s\n", s.Instance)
		fmt.Printf(" Hostname  : %s\n", s.Hostname)
		fmt.Printf(" Port      : %d\n", s.Port)
		fmt.Printf(" Type      : %s\n", s.Info.Type)
		fmt.Printf(" Channels  : %d\n", s.Info.Channels)
		fmt.Printf(" Rate      : %g Hz\n", s.Info.Rate)
		fmt.Printf(" Format    : %s\n", s.Info.Format)
		fmt.Printf(" Transport : %s\n", s.Info.Transport)

		if ok, reason := mdns.Eligible(s.Info, *wantType); ok {
			fmt.Println(" Eligible  : yes")
		} else {
			fmt.Printf(" Eligible  : no (%s)\n", reason)
		}

		fmt.Println(" Addresses:")
		if len(s.Addresses) == 0 {
			fmt.Println("   <none>")
		}
		for _, ip := range s.Addresses {
			fmt.Printf("   - %s\n", ip.String())
		}

		if endpoint, err := s.Endpoint(); err == nil {
			fmt.Println(" Connection hint:")
			if s.Info.Transport == mdns.TransportWebSocket {
				fmt.Printf("   neurosurf -source ws -url %s -channels %d\n", endpoint, s.Info.Channels)
			} else {
				fmt.Printf("   neurosurf -source tcp -address %s -channels %d\n", endpoint, s.Info.Channels)
			}
		}

		fmt.Println("===============================================================")
	}
}
