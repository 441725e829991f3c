package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ProxyProgramName}} -- a forwarding DNS proxy for the unidns resolver library

SYNOPSIS
          {{.ProxyProgramName}} [options] [upstream-server...]

DESCRIPTION
          {{.ProxyProgramName}} accepts classic DNS queries on the loopback interface and forwards
          them to a recursive resolver over one of the three transports implemented by the unidns
          library: classic Do53 (UDP with TCP fallback), DNS-over-TLS ({{.DoTRFC}}) and
          DNS-over-HTTPS ({{.DoHRFC}}). The intent is to give every program on the local system
          access to secure transports without any of them knowing more than 127.0.0.1.

          The upstream transport is selected with --mode. The meaning of the trailing
          upstream-server arguments depends on that mode:

            do53    IP addresses, tried on port {{.DNSDefaultPort}}. If none are supplied the
                    upstream list is derived from resolv.conf (see -c).
            dot     IP[@hostname[@port]] entries. hostname sets the TLS SNI/validation name and
                    port defaults to {{.DoTDefaultPort}}. If none are supplied a built-in list of
                    well-known public DoT servers is used.
            doh     HTTPS URLs. If none are supplied a built-in public DoH URL is used.

          Responses are always returned to the client verbatim, including non-success status codes
          such as NXDOMAIN - this proxy never converts a server's answer into a local error.

          Over time all supplied dot/doh upstream servers are used to resolve queries. A simplistic
          algorithm selects the "preferred" server based on minimum average latency resulting in
          most queries being directed to the "preferred" server. do53 upstreams are instead tried
          strictly in order, matching traditional res_send(3) semantics.

INVOCATION
          A typical invocation forwarding over DNS-over-TLS to the built-in public server list:

              $ {{.ProxyProgramName}} --mode dot

          or forwarding to a specific DoH server:

              $ {{.ProxyProgramName}} --mode doh https://mozilla.cloudflare-dns.com/dns-query

          or keeping classic DNS but pinning the upstreams:

              $ {{.ProxyProgramName}} --mode do53 8.8.8.8 1.1.1.1

          Once started you should be able to issue DNS queries against the local system interface:

              $ dig @127.0.0.1 apple.com mx

          Assuming this query works you can point /etc/resolv.conf (or your DHCP configuration) at
          the configured listen address of {{.ProxyProgramName}}.

          Binding the default DNS port normally requires starting as root. The --user, --group and
          --chroot options constrain the process after the privileged sockets have been opened.

OPTIONS
          [-hv]
          [--mode do53|dot|doh]
          [-A listen Address[:port] ...] [--tcp] [--udp]

          [-c resolv.conf path for do53 upstreams]
          [-i status-report-interval] [-r maximum connections per doh server]
          [-t request timeout] [--timeout-udp duration] [--timeout-tcp duration]
          [--block-length octets]

          [--bs-reassess-after duration]                       **best server
          [--bs-reassess-count count]                             controls**
          [--bs-reset-failed-after duration]
          [--bs-sample-others-every rate]
          [--bs-weight-for-latest percent]

          [--log-client-in] [--log-client-out] [--log-tls-errors]
          [--log-all]

          [--tls-cert TLS Client Certificate file]
          [--tls-key TLS Client Key file]
          [--tls-other-roots TLS Root Certificate file...]
          [--tls-use-system-roots]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

          [--version]

`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")

	flagSet.StringVar(&cfg.mode, "mode", "dot", "Upstream `transport`: do53, dot or doh")

	flagSet.Var(&cfg.listenAddresses, "A",
		"Listen `address` for inbound DNS queries (default 127.0.0.1:"+consts.DNSDefaultPort+")")

	flagSet.BoolVar(&cfg.tcp, "tcp", true, "Listen for TCP DNS Queries")
	flagSet.BoolVar(&cfg.udp, "udp", true, "Listen for UDP DNS Queries")

	flagSet.StringVar(&cfg.resolvConfPath, "c", "",
		"`path` to the resolv.conf supplying default do53 upstreams (default /etc/resolv.conf)")
	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval`")
	flagSet.IntVar(&cfg.maximumRemoteConnections, "r", 10, "Maximum `concurrent` connections per DoH server")
	flagSet.DurationVar(&cfg.requestTimeout, "t", time.Second*4, "Per-query `timeout` for dot/doh upstreams")

	flagSet.DurationVar(&cfg.timeoutUDP, "timeout-udp", time.Second*4, "do53 UDP-phase `deadline`")
	flagSet.DurationVar(&cfg.timeoutTCP, "timeout-tcp", time.Second*4, "do53 TCP-phase `deadline`")
	flagSet.UintVar(&cfg.blockLength, "block-length", 128, "dot query padding modulus in `octets`")

	// bestserver options

	flagSet.DurationVar(&cfg.latencyConfig.ReassessAfter, "bs-reassess-after",
		bestserver.DefaultLatencyConfig.ReassessAfter,
		"Reassess after `duration`")
	flagSet.IntVar(&cfg.latencyConfig.ReassessCount, "bs-reassess-count",
		bestserver.DefaultLatencyConfig.ReassessCount,
		"Reassess after `count` requests")
	flagSet.DurationVar(&cfg.latencyConfig.ResetFailedAfter, "bs-reset-failed-after",
		bestserver.DefaultLatencyConfig.ResetFailedAfter,
		"Reset failed servers to initial state after this `duration`")
	flagSet.IntVar(&cfg.latencyConfig.SampleOthersEvery, "bs-sample-others-every",
		bestserver.DefaultLatencyConfig.SampleOthersEvery,
		"Try other servers every `sample` Result() calls")
	flagSet.IntVar(&cfg.latencyConfig.WeightForLatest, "bs-weight-for-latest",
		bestserver.DefaultLatencyConfig.WeightForLatest,
		"Weight Result(Latency) by `percent`")

	flagSet.BoolVar(&cfg.logAll, "log-all", false, "Turns on all other --log-* options")
	flagSet.BoolVar(&cfg.logClientIn, "log-client-in", false, "Compact print of query arriving from client")
	flagSet.BoolVar(&cfg.logClientOut, "log-client-out", false, "Compact print of response returned to client")
	flagSet.BoolVar(&cfg.logTLSErrors, "log-tls-errors", false, "Print crypto/x509 errors from upstream queries")

	// TLS

	flagSet.StringVar(&cfg.tlsClientCertFile, "tls-cert", "", "TLS Client Certificate `file`")
	flagSet.StringVar(&cfg.tlsClientKeyFile, "tls-key", "", "TLS Client Key `file`")
	flagSet.Var(&cfg.tlsCAFiles, "tls-other-roots", "Non-system Root CA `file` used to validate dot/doh endpoints")
	flagSet.BoolVar(&cfg.tlsUseSystemRootCAs, "tls-use-system-roots", true,
		"Validate dot/doh endpoints with root CAs")

	// gops go pprof settings

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	// Process Constraint parameters

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
