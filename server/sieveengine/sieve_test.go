package sieveengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, src string, ctx Context) Result {
	t.Helper()
	script, err := NewScript(src)
	require.NoError(t, err)
	result, err := script.Evaluate(ctx)
	require.NoError(t, err)
	return result
}

func testCtx() Context {
	return Context{
		EnvelopeFrom: "alice@example.com",
		EnvelopeTo:   "bob@example.net",
		Header: map[string][]string{
			"From":    {"Alice <alice@example.com>"},
			"To":      {"bob@example.net"},
			"Subject": {"Quarterly report"},
		},
		Body: "Please find the report attached.",
	}
}

func TestImplicitKeep(t *testing.T) {
	result := evaluate(t, `# nothing to do`, testCtx())
	assert.Equal(t, ActionKeep, result.Action)
}

func TestFileIntoOnHeaderContains(t *testing.T) {
	src := `require ["fileinto"];
if header :contains "subject" "report" {
    fileinto "Reports";
}`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionFileInto, result.Action)
	assert.Equal(t, "Reports", result.Mailbox)
}

func TestElsifAndElseBranches(t *testing.T) {
	src := `require ["fileinto"];
if header :is "subject" "no match" {
    fileinto "A";
} elsif header :contains "subject" "quarterly" {
    fileinto "B";
} else {
    fileinto "C";
}`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, "B", result.Mailbox)
}

func TestElseBranch(t *testing.T) {
	src := `if false { discard; } elsif false { discard; } else { keep; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionKeep, result.Action)
}

func TestDiscard(t *testing.T) {
	src := `if envelope :is "from" "alice@example.com" { discard; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestStopFreezesResult(t *testing.T) {
	src := `require ["fileinto"];
fileinto "First";
stop;
fileinto "Second";`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, "First", result.Mailbox)
}

func TestRedirect(t *testing.T) {
	src := `redirect "archive@example.org";`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionRedirect, result.Action)
	assert.Equal(t, "archive@example.org", result.RedirectTo)
}

func TestVacationTags(t *testing.T) {
	src := `require ["vacation"];
vacation :days 3 :subject "Away" "I am out of office.";`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionVacation, result.Action)
	assert.Equal(t, 3, result.VacationDays)
	assert.Equal(t, "Away", result.VacationSubj)
	assert.Equal(t, "I am out of office.", result.VacationMsg)
}

func TestAddressLocalpart(t *testing.T) {
	src := `require ["fileinto"];
if address :localpart :is "from" "alice" {
    fileinto "Friends";
}`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, "Friends", result.Mailbox)
}

func TestAddressDomain(t *testing.T) {
	src := `if address :domain :is "from" "example.com" { discard; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestEnvelopeTest(t *testing.T) {
	src := `require ["envelope"];
if envelope :domain :is "to" "example.net" { discard; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestMatchesGlob(t *testing.T) {
	src := `if header :matches "subject" "Quart*report" { discard; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestAllofAnyofNot(t *testing.T) {
	src := `if allof (exists "from", anyof (header :is "subject" "x", not header :is "subject" "x")) {
    discard;
}`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestSizeOver(t *testing.T) {
	ctx := testCtx()
	ctx.Body = strings.Repeat("a", 2048)
	result := evaluate(t, `if size :over 1K { discard; }`, ctx)
	assert.Equal(t, ActionDiscard, result.Action)

	result = evaluate(t, `if size :under 1K { discard; }`, ctx)
	assert.Equal(t, ActionKeep, result.Action)
}

func TestComments(t *testing.T) {
	src := `# line comment
/* block
   comment */
if true { discard; }`
	result := evaluate(t, src, testCtx())
	assert.Equal(t, ActionDiscard, result.Action)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		`if header "subject" "x" { keep `, // unterminated block
		`fileinto "A"`,                    // missing semicolon
		`if { keep; }`,                    // missing test
		`keep; "stray string";`,           // string as command
		`vacation :bogus "tag" "reason";`, // unknown vacation tag
	} {
		script, err := NewScript(src)
		if err == nil {
			// Some malformed scripts only fail at evaluation.
			_, err = script.Evaluate(testCtx())
		}
		assert.Error(t, err, src)
	}
}

func TestUnsupportedRequire(t *testing.T) {
	script, err := NewScript(`require ["imap4flags"]; keep;`)
	require.NoError(t, err)
	_, err = script.Evaluate(testCtx())
	assert.Error(t, err)
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, globMatch("*", "anything"))
	assert.True(t, globMatch("a?c", "abc"))
	assert.False(t, globMatch("a?c", "ac"))
	assert.True(t, globMatch("*@example.com", "user@example.com"))
	assert.False(t, globMatch("*@example.com", "user@example.org"))
}

func TestExtractAddresses(t *testing.T) {
	got := extractAddresses(`Alice <alice@example.com>, bob@example.net`)
	assert.Equal(t, []string{"alice@example.com", "bob@example.net"}, got)
}
