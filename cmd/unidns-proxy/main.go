// Listen for inbound DNS queries on loopback and forward them to a recursive resolver over one of
// the unidns transports: Do53, DNS-over-TLS or DNS-over-HTTPS.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hollowridge/unidns"
	"github.com/hollowridge/unidns/internal/constants"
	"github.com/hollowridge/unidns/internal/do53"
	"github.com/hollowridge/unidns/internal/doh"
	"github.com/hollowridge/unidns/internal/dot"
	"github.com/hollowridge/unidns/internal/osutil"
	"github.com/hollowridge/unidns/internal/reporter"
	"github.com/hollowridge/unidns/internal/serverregistry"

	"github.com/google/gops/agent"
)

// Program-wide variables
var (
	consts           = constants.Get()
	cfg              *config
	listenTransports = []string{}

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ProxyProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

//////////////////////////////////////////////////////////////////////
// main wrappers make it easy for test programs
//////////////////////////////////////////////////////////////////////

// mainInit resets everything such that mainExecute() can be called multiple times in one program
// execution. stopChannel is buffered as the reader may disappear if there is a fatal error and
// multiple writers may try and write to the channel and we don't want those writers to stall
// forever.
func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	listenTransports = []string{}
	stdout = out
	stderr = err
	mainState(Initial)
	stopChannel = make(chan os.Signal, 4) // All reasonable signals cause us to quit or stats report
	osutil.SignalNotify(stopChannel)
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
		fmt.Fprintln(stdout, consts.ProxyProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.logAll {
		cfg.logClientIn = true
		cfg.logClientOut = true
		cfg.logTLSErrors = true
	}

	// Validate transport settings

	if cfg.udp {
		listenTransports = append(listenTransports, consts.DNSUDPTransport)
	}
	if cfg.tcp {
		listenTransports = append(listenTransports, consts.DNSTCPTransport)
	}
	if len(listenTransports) == 0 {
		return fatal("Must have one of --tcp or --udp set")
	}

	if cfg.maximumRemoteConnections < 1 {
		return fatal("Maximum connections per DoH server must be greater than zero (-r)")
	}

	// Construct the upstream client for the selected mode. Responses must always be returned to
	// the client verbatim so every engine is built with ThrowOnErrorStatus=false - an NXDOMAIN
	// from upstream is an answer, not an error.

	upstream, err := newUpstream(cfg.mode, flagSet.Args())
	if err != nil {
		return fatal(err)
	}
	defer upstream.Close()

	var reporters []reporter.Reporter // Keep track of all reportable routines
	var servers []*server             // Keep track of all servers so we can shut them down

	if rep, ok := upstream.(reporter.Reporter); ok {
		reporters = append(reporters, rep)
	}

	if cfg.listenAddresses.NArg() == 0 { // Bind loopback if no addresses supplied
		cfg.listenAddresses.Set("127.0.0.1")
	}

	// Optional gops diagnostics agent for live process inspection

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal(err)
		}
		defer agent.Close()
	}

	// Start CPU profiling now that most error checking is complete

	if len(cfg.cpuprofile) > 0 {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	// Memory profile is triggered at the end of the program but we open the output file and
	// hold it open prior to any possible chroot/setuid/setgid action.

	var memProfileFile *os.File
	if len(cfg.memprofile) > 0 {
		memProfileFile, err = os.Create(cfg.memprofile)
		if err != nil {
			return fatal(err)
		}
		defer memProfileFile.Close()
	}

	// Start servers to accept queries and forward them upstream.

	if cfg.verbose {
		fmt.Fprintln(stdout,
			consts.ProxyProgramName, consts.Version, "Starting:", cfg.mode, "upstream")
	}

	errorChannel := make(chan error, cfg.listenAddresses.NArg()*len(listenTransports))
	wg := &sync.WaitGroup{} // Wait on all servers

	for _, addr := range cfg.listenAddresses.Args() {
		ip := net.ParseIP(addr) // We have to wrap unadorned ipv6 addresses so we can append port
		if ip != nil && ip.To4() == nil {
			addr = "[" + addr + "]" // It's naked, so wrap it
		}

		// If addr is neither v4addr:port, [v6addr]:port or host:port, append the default port
		if !(strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")) {
			addr = fmt.Sprintf("%s:%s", addr, consts.DNSDefaultPort)
		}

		for _, transport := range listenTransports {
			s := newServer(stdout, upstream, addr, transport)
			s.start(errorChannel, wg)
			if cfg.verbose {
				fmt.Fprintln(stdout, "Starting", s.Name())
			}

			reporters = append(reporters, s)
			if s.connTracker != nil {
				reporters = append(reporters, s.connTracker)
			}
			servers = append(servers, s)
		}
	}

	// Constrain the process via setuid/setgid/chroot. This is a no-op call if all parameters
	// are empty strings. We don't have to delay here as server start only returns once the
	// privileged sockets have been opened.

	err = osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir)
	if err != nil {
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	// Loop forever giving periodic status reports and checking for a termination event.

	mainState(Started) // Tell testers that we're up and running
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, reporters)
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running // All signals bar USR1 cause loop exit

		case err := <-errorChannel:
			return fatal(err) // No cleanup if we got a server startup error

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	for _, s := range servers {
		s.stop()
	}

	mainState(Stopped)
	wg.Wait() // Wait for all servers to shut down

	if cfg.verbose {
		statusReport("Status", true, reporters) // One last report prior to exiting
		fmt.Fprintln(stdout, consts.ProxyProgramName, consts.Version, "Exiting after", uptime())
	}

	// Memory profile is written at the end of the program

	if memProfileFile != nil {
		runtime.GC() // get up-to-date statistics
		err := pprof.WriteHeapProfile(memProfileFile)
		if err != nil {
			return fatal(err)
		}
	}

	return 0
}

// newUpstream builds the unidns client for the selected mode from the trailing command-line
// arguments. An empty argument list means each engine's default server list: resolv.conf for do53
// and the built-in public server lists for dot/doh.
func newUpstream(mode string, args []string) (unidns.Client, error) {
	passthrough := false // Engines hand back non-success responses; the client decides

	switch mode {
	case "do53":
		eps, err := parseDo53Servers(args)
		if err != nil {
			return nil, err
		}
		return do53.New(do53.Config{
			ResolvConfPath:     cfg.resolvConfPath,
			Servers:            eps,
			TimeoutUDP:         do53.Duration(cfg.timeoutUDP),
			TimeoutTCP:         do53.Duration(cfg.timeoutTCP),
			ThrowOnErrorStatus: do53.Bool(passthrough),
		})

	case "dot":
		eps, err := parseDotServers(args)
		if err != nil {
			return nil, err
		}
		return dot.New(dot.Config{
			Servers:            eps,
			Timeout:            dot.Duration(cfg.requestTimeout),
			BlockLength:        cfg.blockLength,
			ThrowOnErrorStatus: dot.Bool(passthrough),
			UseSystemCAs:       cfg.tlsUseSystemRootCAs,
			OtherCAFiles:       cfg.tlsCAFiles.Args(),
			Latency:            cfg.latencyConfig,
		})

	case "doh":
		eps, err := parseDohServers(args)
		if err != nil {
			return nil, err
		}
		return doh.New(doh.Config{
			Servers:            eps,
			Timeout:            doh.Duration(cfg.requestTimeout),
			ThrowOnErrorStatus: doh.Bool(passthrough),
			UseSystemCAs:       cfg.tlsUseSystemRootCAs,
			OtherCAFiles:       cfg.tlsCAFiles.Args(),
			ClientCertFile:     cfg.tlsClientCertFile,
			ClientKeyFile:      cfg.tlsClientKeyFile,
			MaxConnsPerHost:    cfg.maximumRemoteConnections,
			Latency:            cfg.latencyConfig,
		}, nil)
	}

	return nil, fmt.Errorf("unknown --mode of %q - must be do53, dot or doh", mode)
}

// parseDo53Servers converts trailing IP address arguments into do53 endpoints.
func parseDo53Servers(args []string) ([]serverregistry.Endpoint, error) {
	eps := make([]serverregistry.Endpoint, 0, len(args))
	for _, arg := range args {
		ip := net.ParseIP(arg)
		if ip == nil {
			return nil, fmt.Errorf("do53 upstream %q is not an IP address", arg)
		}
		eps = append(eps, serverregistry.NewPlain(ip))
	}
	return eps, nil
}

// parseDotServers converts trailing IP[@hostname[@port]] arguments into dot endpoints. The
// hostname becomes the TLS SNI and validation name; without one certificate validation is against
// the bare IP which public servers rarely support.
func parseDotServers(args []string) ([]serverregistry.Endpoint, error) {
	eps := make([]serverregistry.Endpoint, 0, len(args))
	for _, arg := range args {
		parts := strings.Split(arg, "@")
		if len(parts) > 3 {
			return nil, fmt.Errorf("dot upstream %q has too many @ separators - want IP[@hostname[@port]]", arg)
		}
		ip := net.ParseIP(parts[0])
		if ip == nil {
			return nil, fmt.Errorf("dot upstream %q does not start with an IP address", arg)
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
	return eps, nil
}

// parseDohServers converts trailing URL arguments into doh endpoints, defaulting the scheme to
// https for a bare FQDN.
func parseDohServers(args []string) ([]serverregistry.Endpoint, error) {
	eps := make([]serverregistry.Endpoint, 0, len(args))
	for _, arg := range args {
		u, err := normalizeURL(arg)
		if err != nil {
			return nil, err
		}
		eps = append(eps, serverregistry.NewDoh(u))
	}
	return eps, nil
}

// normalizeURL applies the same leniency as the flag-style URL arguments always have: a plain FQDN
// becomes an https URL and a missing scheme defaults to https.
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
		return "", fmt.Errorf("doh upstream %q does not contain a hostname", arg)
	}
	if len(u.Scheme) == 0 {
		u.Scheme = "https"
	}
	return u.String(), nil
}

// nextInterval calculates the duration to the modulo interval next time. If now is 00:01:17 and
// interval is 30s then return is 13s which is the duration to the next modulo of 00:01:30.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// uptime calculates how long this server has been running and returns print-friendly and
// granularity-appropriate representation of that duration.
func uptime() string {
	return time.Now().Sub(startTime).Truncate(time.Second).String()
}

// statusReport prints stats about the server and all known reporters
func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ProxyProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
