// Package criteria holds the fixed handshake test cases run against mail servers.
package criteria

import (
	"fmt"
	"slices"
)

// Version is a TLS protocol version as it appears on the wire.
type Version uint16

const (
	VersionSSL30 Version = 0x0300
	VersionTLS10 Version = 0x0301
	VersionTLS11 Version = 0x0302
	VersionTLS12 Version = 0x0303
	VersionTLS13 Version = 0x0304
)

var versionNames = map[Version]string{
	VersionSSL30: "SSL 3.0",
	VersionTLS10: "TLS 1.0",
	VersionTLS11: "TLS 1.1",
	VersionTLS12: "TLS 1.2",
	VersionTLS13: "TLS 1.3",
}

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(v))
}

// Name identifies a test case. Names are stable and used as keys in results.
type Name string

// TestCriteria is the exact offer made in one handshake attempt.
type TestCriteria struct {
	Name         Name
	Version      Version
	CipherSuites []uint16 // order is the client preference order
	Groups       []uint16 // named groups offered; nil leaves the engine default
	HelloOnly    bool     // judged on the server's first flight only
}

// Offers reports whether the criteria lists the given cipher suite.
func (tc TestCriteria) Offers(suite uint16) bool {
	for _, s := range tc.CipherSuites {
		if s == suite {
			return true
		}
	}
	return false
}

func (tc TestCriteria) String() string {
	return fmt.Sprintf("%s (%s, %d suites)", tc.Name, tc.Version, len(tc.CipherSuites))
}

// Catalog is an ordered, immutable list of test cases.
type Catalog struct {
	tests []TestCriteria
	index map[Name]int
}

func newCatalog(tests ...TestCriteria) Catalog {
	c := Catalog{
		tests: tests,
		index: make(map[Name]int, len(tests)),
	}
	for i, tc := range tests {
		if _, dup := c.index[tc.Name]; dup {
			panic(fmt.Sprintf("criteria: duplicate test %q", tc.Name))
		}
		c.index[tc.Name] = i
	}
	return c
}

// Tests returns copies of the test cases in declared order.
func (c Catalog) Tests() []TestCriteria {
	out := make([]TestCriteria, len(c.tests))
	for i, tc := range c.tests {
		out[i] = tc.clone()
	}
	return out
}

// Lookup returns the test case with the given name.
func (c Catalog) Lookup(name Name) (TestCriteria, bool) {
	i, ok := c.index[name]
	if !ok {
		return TestCriteria{}, false
	}
	return c.tests[i].clone(), true
}

func (tc TestCriteria) clone() TestCriteria {
	tc.CipherSuites = slices.Clone(tc.CipherSuites)
	tc.Groups = slices.Clone(tc.Groups)
	return tc
}

// Len returns the number of test cases.
func (c Catalog) Len() int { return len(c.tests) }
