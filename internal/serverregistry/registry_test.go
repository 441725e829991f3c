package serverregistry

import (
	"net"
	"testing"
)

func TestNewDotDefaults(t *testing.T) {
	r, err := NewDotRegistry(Config{})
	if err != nil {
		t.Fatal(err)
	}
	all := r.All()
	if len(all) == 0 {
		t.Fatal("expected built-in DoT servers")
	}
	found := false
	for _, e := range all {
		if e.Hostname() == "securedns.eu" {
			found = true
			if len(e.Pins()) == 0 {
				t.Error("expected securedns.eu to carry a pin")
			}
		}
	}
	if !found {
		t.Error("expected securedns.eu in the built-in list")
	}
}

func TestNewDohDefault(t *testing.T) {
	r, err := NewDohRegistry(Config{})
	if err != nil {
		t.Fatal(err)
	}
	all := r.All()
	if len(all) != 1 || all[0].URL() != DefaultDohServer {
		t.Errorf("expected single default Doh endpoint, got %v", all)
	}
}

func TestConfigOverrideIsTotal(t *testing.T) {
	override := []Endpoint{NewDoh("https://example.test/dns-query")}
	r, err := NewDohRegistry(Config{Servers: override})
	if err != nil {
		t.Fatal(err)
	}
	all := r.All()
	if len(all) != 1 || all[0].URL() != "https://example.test/dns-query" {
		t.Errorf("expected override to replace defaults entirely, got %v", all)
	}
}

func TestAvailableOrdersIPv4First(t *testing.T) {
	old := probeFamiliesFunc
	probeFamiliesFunc = func() (bool, bool) { return true, true }
	defer func() { probeFamiliesFunc = old }()

	r := &Registry{transport: Dot, all: []Endpoint{
		NewDot(net.ParseIP("2001:db8::53"), "v6.example", "", nil),
		NewDot(net.ParseIP("192.0.2.53"), "v4.example", "", nil),
	}}
	avail := r.Available()
	if len(avail) != 2 {
		t.Fatalf("expected both endpoints preserved, got %d", len(avail))
	}
	if !avail[0].IsIPv4() {
		t.Error("expected IPv4 endpoint to sort first")
	}
}

func TestAvailableFiltersUnsupportedFamily(t *testing.T) {
	old := probeFamiliesFunc
	probeFamiliesFunc = func() (bool, bool) { return true, false }
	defer func() { probeFamiliesFunc = old }()

	r := &Registry{transport: Dot, all: []Endpoint{
		NewDot(net.ParseIP("2001:db8::53"), "v6.example", "", nil),
		NewDot(net.ParseIP("192.0.2.53"), "v4.example", "", nil),
	}}
	avail := r.Available()
	if len(avail) != 1 || !avail[0].IsIPv4() {
		t.Fatalf("expected only the IPv4 endpoint when v6 unsupported, got %v", avail)
	}
}

func TestEndpointName(t *testing.T) {
	p := NewPlain(net.ParseIP("8.8.8.8"))
	if p.Name() != "8.8.8.8:53" {
		t.Errorf("unexpected Plain Name: %s", p.Name())
	}

	d := NewDot(net.ParseIP("1.1.1.1"), "cloudflare-dns.com", "", nil)
	if d.Name() != "1.1.1.1:853" {
		t.Errorf("unexpected Dot Name: %s", d.Name())
	}

	h := NewDoh("https://example.test/dns-query")
	if h.Name() != "https://example.test/dns-query" {
		t.Errorf("unexpected Doh Name: %s", h.Name())
	}
}
