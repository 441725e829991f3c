// Issue DNS queries over any of the unidns transports - a diagnostic companion to unidns-proxy.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hollowridge/unidns"
	"github.com/hollowridge/unidns/internal/constants"
	"github.com/hollowridge/unidns/internal/dnsutil"
	"github.com/hollowridge/unidns/internal/do53"
	"github.com/hollowridge/unidns/internal/doh"
	"github.com/hollowridge/unidns/internal/dot"
	"github.com/hollowridge/unidns/internal/serverregistry"

	"github.com/miekg/dns"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.DigProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.DigProgramName, "Version:", consts.Version)
		return 0
	}

	// Validate repeat count

	if cfg.repeatCount < 0 {
		return fatal("Repeat count (-r) must be GE zero, not", cfg.repeatCount)
	}

	// Construct the upstream client. Unlike the library default we never raise on a non-success
	// status: a dig program's whole purpose is to show you the server's answer, NXDOMAIN
	// included.

	client, err := newUpstream(cfg.mode, cfg.servers.Args())
	if err != nil {
		return fatal(err)
	}
	defer client.Close()

	// A reverse lookup stands alone - it needs no qName

	if len(cfg.reverse) > 0 {
		ip := net.ParseIP(cfg.reverse)
		if ip == nil {
			return fatal("Reverse lookup (-x) argument", cfg.reverse, "is not an IP address")
		}
		name, err := unidns.ResolveAddr(context.Background(), client, ip)
		if err != nil {
			return fatal(err)
		}
		fmt.Fprintln(stdout, name)
		return 0
	}

	remainingOptions := flagSet.NArg() // Track command line options
	optionIndex := 0

	// Validate qName

	if remainingOptions < 1 {
		return fatal("Require qName on command line. Consider -h")
	}

	qName := dns.Fqdn(flagSet.Arg(optionIndex))
	optionIndex++
	remainingOptions--

	if _, ok := dns.IsDomainName(qName); !ok || !dns.IsFqdn(qName) {
		return fatal("qName cannot be resolved. Is it a valid FQDN?", qName)
	}

	// Validate qType - if present

	qTypeString := dns.TypeToString[dns.TypeA] // Default to an "A" query
	if remainingOptions > 0 {
		qTypeString = strings.ToUpper(flagSet.Arg(optionIndex))
		optionIndex++
		remainingOptions--
	}
	qType, ok := dns.StringToType[qTypeString] // Does miekg know about this type?
	if !ok {
		return fatal("Unrecognized qType of", qTypeString)
	}

	// Make sure there is no residual goop on the command line

	if remainingOptions > 0 {
		return fatal("Don't know what to do with residual goop on command line:", flagSet.Arg(optionIndex))
	}

	// Issue the query the requested number of times

	chOut := make(chan string, 1) // Queries write to a chan so we can parallelize
	chErr := make(chan string, 1) // and reap and print the outputs without interleaving.
	if cfg.parallel {
		for qx := 0; qx < cfg.repeatCount; qx++ {
			go doQuery(chOut, chErr, client, qName, qType)
		}
		for qx := 0; qx < cfg.repeatCount; qx++ {
			s := <-chOut
			fmt.Fprint(stdout, s)
			s = <-chErr
			fmt.Fprint(stderr, s)
		}
	} else {
		for qx := 0; qx < cfg.repeatCount; qx++ {
			doQuery(chOut, chErr, client, qName, qType)
			s := <-chOut
			fmt.Fprint(stdout, s)
			s = <-chErr
			fmt.Fprint(stderr, s)
		}
	}

	return 0
}

//////////////////////////////////////////////////////////////////////

func doQuery(chOut, chErr chan string, client unidns.Client, qName string, qType uint16) {
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	defer func() {
		chOut <- outBuf.String()
		chErr <- errBuf.String()
	}()
	query := &dns.Msg{}
	query.SetQuestion(dns.Fqdn(qName), qType)
	query.RecursionDesired = true

	// Explicit padding rides along in the query's OPT - do53 forwards it untouched and doh
	// POSTs it as-is while dot replaces it with its own connection-sized padding.

	if cfg.padding {
		if _, err := dnsutil.PadAndPack(query, consts.Rfc7830PadModulo); err != nil {
			fmt.Fprintln(errBuf, "Error:", err)
			return
		}
	}

	startTime := time.Now()
	resp, err := client.Query(context.Background(), query)
	duration := time.Now().Sub(startTime)
	if err != nil {
		fmt.Fprintln(errBuf, "Error:", err)
		return
	}

	if cfg.short {
		for _, rr := range resp.Answer {
			fmt.Fprintln(outBuf, rr.String())
		}
	} else {
		fmt.Fprintln(outBuf, resp)

		fmt.Fprintf(outBuf, ";; Query Time: %s\n", duration.Truncate(time.Millisecond).String())
		fmt.Fprintf(outBuf, ";; Payload Size: %d\n", resp.Len())
		fmt.Fprintln(outBuf)
	}
}

// newUpstream builds the unidns client for the selected mode from the repeated -s arguments. An
// empty server list means each engine's default: resolv.conf for do53 and the built-in public
// server lists for dot/doh.
func newUpstream(mode string, args []string) (unidns.Client, error) {
	switch mode {
	case "do53":
		eps := make([]serverregistry.Endpoint, 0, len(args))
		for _, arg := range args {
			ip := net.ParseIP(arg)
			if ip == nil {
				return nil, fmt.Errorf("do53 server %q is not an IP address", arg)
			}
			eps = append(eps, serverregistry.NewPlain(ip))
		}
		return do53.New(do53.Config{
			ResolvConfPath:     cfg.resolvConfPath,
			Servers:            eps,
			TimeoutUDP:         do53.Duration(cfg.timeoutUDP),
			TimeoutTCP:         do53.Duration(cfg.timeoutTCP),
			ThrowOnErrorStatus: do53.Bool(false),
		})

	case "dot":
		eps := make([]serverregistry.Endpoint, 0, len(args))
		for _, arg := range args {
			parts := strings.Split(arg, "@")
			if len(parts) > 3 {
				return nil, fmt.Errorf("dot server %q has too many @ separators - want IP[@hostname[@port]]", arg)
			}
			ip := net.ParseIP(parts[0])
			if ip == nil {
				return nil, fmt.Errorf("dot server %q does not start with an IP address", arg)
			}
			hostname := ""
			port := ""
			if len(parts) > 1 {
				hostname = parts[1]
			}
			if len(parts) > 2 {
				port = parts[2]
			}
			eps = append(eps, serverregistry.NewDot(ip, hostname, port, nil))
		}
		return dot.New(dot.Config{
			Servers:            eps,
			Timeout:            dot.Duration(cfg.requestTimeout),
			BlockLength:        cfg.blockLength,
			ThrowOnErrorStatus: dot.Bool(false),
			UseSystemCAs:       cfg.tlsUseSystemRootCAs,
			OtherCAFiles:       cfg.tlsCAFiles.Args(),
		})

	case "doh":
		eps := make([]serverregistry.Endpoint, 0, len(args))
		for _, arg := range args {
			u, err := normalizeURL(arg)
			if err != nil {
				return nil, err
			}
			eps = append(eps, serverregistry.NewDoh(u))
		}
		return doh.New(doh.Config{
			Servers:            eps,
			Timeout:            doh.Duration(cfg.requestTimeout),
			ThrowOnErrorStatus: doh.Bool(false),
			UseSystemCAs:       cfg.tlsUseSystemRootCAs,
			OtherCAFiles:       cfg.tlsCAFiles.Args(),
			ClientCertFile:     cfg.tlsClientCertFile,
			ClientKeyFile:      cfg.tlsClientKeyFile,
		}, nil)
	}

	return nil, fmt.Errorf("unknown --mode of %q - must be do53, dot or doh", mode)
}

// normalizeURL defaults a bare FQDN or scheme-less argument to an https URL.
func normalizeURL(arg string) (string, error) {
	u, err := url.Parse(arg)
	if err != nil {
		return "", err
	}
	if len(u.Scheme) == 0 && len(u.Host) == 0 && len(u.Path) > 0 { // A plain FQDN looks like this
		u.Host = u.Path
		u.Path = ""
	}
	if len(u.Host) == 0 {
		return "", fmt.Errorf("doh server %q does not contain a hostname", arg)
	}
	if len(u.Scheme) == 0 {
		u.Scheme = "https"
	}
	return u.String(), nil
}
