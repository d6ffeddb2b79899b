package containername

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var validName = regexp.MustCompile(`^[a-z0-9_.-]+$`)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"My Project!!":   "my-project",
		"___already___":  "already",
		"UPPER-case_ok.":  "upper-case_ok",
		"":                DefaultPrefix,
		"????":            DefaultPrefix,
		"a  b":            "a-b",
	}
	for in, want := range cases {
		require.Equal(t, want, Sanitize(in), "input=%q", in)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, s := range []string{"My Project!!", "weird///chars", "", "already-ok"} {
		once := Sanitize(s)
		twice := Sanitize(once)
		require.Equal(t, once, twice)
		require.Regexp(t, validName, once)
	}
}

func TestBuildNameScenario1(t *testing.T) {
	// oc-abcdef12-sess.
	name := BuildName("oc", "abcdef1234", "sess-ROOT-xyz")
	require.Equal(t, "oc-abcdef12-sess", name)
}

func TestBuildNameDeterministic(t *testing.T) {
	a := BuildName("opencode", "proj-A!!", "session_123")
	b := BuildName("opencode", "proj-A!!", "session_123")
	require.Equal(t, a, b)
	require.Regexp(t, validName, a)
}

func TestBuildNameStableUnderEquivalentSanitization(t *testing.T) {
	a := BuildName("OC", "Project One", "Sess One")
	b := BuildName("oc", "project one", "sess one")
	require.Equal(t, a, b)
}

func TestBuildNameEmptyPrefixFallsBack(t *testing.T) {
	name := BuildName("???", "p", "s")
	require.Contains(t, name, DefaultPrefix)
}
