package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.DigProgramName}} -- a DNS query program for the unidns transports

SYNOPSIS
          {{.DigProgramName}} [options] FQDN [DNS-qType]
          {{.DigProgramName}} [options] -x IP-address

DESCRIPTION
          {{.DigProgramName}} issues DNS queries over any of the three transports implemented by
          the unidns library: classic Do53 (UDP with TCP fallback), DNS-over-TLS ({{.DoTRFC}})
          and DNS-over-HTTPS ({{.DoHRFC}}). Only qClass=IN is supported. If a DNS-qType is not
          supplied then qType=A is used. The second form performs a reverse (PTR) lookup.

          The primary purpose of {{.DigProgramName}} is to issue queries exactly as they are
          issued by {{.ProxyProgramName}} and thus test upstream reachability and behaviour. In
          fact {{.DigProgramName}} purposely uses the same packages as {{.ProxyProgramName}}.

          Upstream servers are supplied with repeated -s options and interpreted per --mode:

            do53    IP addresses (default: the resolv.conf nameservers)
            dot     IP[@hostname[@port]] entries (default: built-in public DoT servers)
            doh     HTTPS URLs (default: a built-in public DoH URL)

          **********
          Production Use Alert: {{.DigProgramName}} is a diagnostic program which will almost
          certainly change with each new package release. Please do not rely on its current
          behaviour or output format and definitely do not use it in a shell script.
          **********

EXAMPLES
            $ {{.DigProgramName}} yahoo.com MX
            $ {{.DigProgramName}} --mode dot -s 9.9.9.9@dns.quad9.net yahoo.com
            $ {{.DigProgramName}} --mode doh -s https://mozilla.cloudflare-dns.com/dns-query yahoo.com
            $ {{.DigProgramName}} -x 1.1.1.1

OPTIONS
          [-hp] [--short]
          [--mode do53|dot|doh] [-s server ...] [-x IP-address]

          [-r repeat count] [-t request timeout]
          [--timeout-udp duration] [--timeout-tcp duration]
          [-c resolv.conf path] [--block-length octets] [--padding]

          [--tls-cert TLS Client Certificate file]
          [--tls-key TLS Client Key file]
          [--tls-other-roots TLS Root Certificate file...]
          [--tls-use-system-roots]
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
	flagSet.BoolVar(&cfg.parallel, "p", false, "Issue all queries in parallel")
	flagSet.IntVar(&cfg.repeatCount, "r", 1, "`Number` of times to issue the query (GE zero)")

	flagSet.BoolVar(&cfg.short, "short", false, "Generate short output showing only Answer RRs")

	flagSet.StringVar(&cfg.mode, "mode", "do53", "Upstream `transport`: do53, dot or doh")
	flagSet.Var(&cfg.servers, "s", "Upstream `server` - repeatable, interpreted per --mode")
	flagSet.StringVar(&cfg.reverse, "x", "", "Reverse (PTR) lookup of this `IP-address`")

	flagSet.DurationVar(&cfg.requestTimeout, "t", time.Second*4, "dot/doh request `timeout`")
	flagSet.DurationVar(&cfg.timeoutUDP, "timeout-udp", time.Second*4, "do53 UDP-phase `deadline`")
	flagSet.DurationVar(&cfg.timeoutTCP, "timeout-tcp", time.Second*4, "do53 TCP-phase `deadline`")
	flagSet.StringVar(&cfg.resolvConfPath, "c", "",
		"`path` to the resolv.conf supplying default do53 servers (default /etc/resolv.conf)")
	flagSet.UintVar(&cfg.blockLength, "block-length", 128, "dot query padding modulus in `octets`")
	flagSet.BoolVar(&cfg.padding, "padding", false, "Add RFC8467 recommended padding to queries")

	flagSet.StringVar(&cfg.tlsClientCertFile, "tls-cert", "", "TLS Client Certificate `file`")
	flagSet.StringVar(&cfg.tlsClientKeyFile, "tls-key", "", "TLS Client Key `file`")
	flagSet.Var(&cfg.tlsCAFiles, "tls-other-roots", "Non-system Root CA `file` used to validate TLS endpoints")
	flagSet.BoolVar(&cfg.tlsUseSystemRootCAs, "tls-use-system-roots", true,
		"Validate TLS endpoints with root CAs")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
