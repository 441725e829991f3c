package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type testCase struct {
	args   []string
	stdout []string
	stderr string
}

// All of these cases fail argument or construction validation before any query is issued so none
// of them need a live upstream.
var mainTestCases = []testCase{
	{[]string{"-r", "-1", "-s", "127.0.0.1", "example.net"}, []string{}, "Repeat count"},
	{[]string{"-t", "xx", "-s", "127.0.0.1", "example.net"}, []string{}, "invalid value"},
	{[]string{"--mode", "doh", "--tls-cert", "/dev/null", "example.net"}, []string{},
		"key file missing"},
	{[]string{"--mode", "doh", "--tls-key", "/dev/null", "example.net"}, []string{},
		"cert file missing"},
	{[]string{"-s", "not-an-ip", "example.net"}, []string{}, "is not an IP address"},
	{[]string{"--mode", "dot", "-s", "dot.example", "example.net"}, []string{},
		"does not start with an IP address"},
	{[]string{"--mode", "doh", "-s", "http://", "example.net"}, []string{},
		"does not contain a hostname"},
	{[]string{"--mode", "doh", "-s", "://localhost/xxx", "example.net"}, []string{},
		"missing protocol scheme"},
	{[]string{"--mode", "dnscrypt", "example.net"}, []string{}, "unknown --mode"},
	{[]string{"-x", "not-an-ip", "-s", "127.0.0.1"}, []string{}, "is not an IP address"},
}

func TestMain(t *testing.T) {
	for tx, tc := range mainTestCases {
		runTest(t, tx, tc)
	}
}

// This function is used by usage_test.go as well
func runTest(t *testing.T, tx int, tc testCase) {
	t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
		args := append([]string{"unidns-dig"}, tc.args...)
		out := &bytes.Buffer{}
		err := &bytes.Buffer{}
		mainInit(out, err)
		ec := mainExecute(args)

		outStr := out.String()
		errStr := err.String()

		if ec != 0 && len(tc.stderr) == 0 {
			t.Error("Unexpected non-zero exit code", ec, outStr, errStr)
		}

		if len(errStr) > 0 && len(tc.stderr) == 0 {
			t.Error("Did not expect stderr:", errStr)
		}
		if len(tc.stderr) > 0 && !strings.Contains(errStr, tc.stderr) {
			t.Error("Stderr expected:\n", tc.stderr, "Got:\n", errStr, args)
		}
		for _, o := range tc.stdout {
			if !strings.Contains(outStr, o) {
				t.Error("Stdout expected:\n", o, "Got:\n", outStr, args)
			}
		}
	})
}
