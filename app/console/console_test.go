package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/drugwatch/lib"
	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

func newDetector(t *testing.T) *lib.Detector {
	t.Helper()
	m, err := textclass.Fit([]textclass.Example{
		{Text: "buy pills cheap", Label: textclass.LabelIllicit},
		{Text: "great sushi dinner", Label: textclass.LabelSafe},
		{Text: "need pills now", Label: textclass.LabelIllicit},
		{Text: "nice sunny park", Label: textclass.LabelSafe},
	})
	require.NoError(t, err)
	d := lib.NewDetector(lib.Config{})
	d.Reload(m)
	return d
}

func TestConsole_Run(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	c := Console{In: strings.NewReader("pills available now\n\n   \nsushi in the park\nQuit\nnever checked\n"),
		Out: &out, Checker: newDetector(t)}
	require.NoError(t, c.Run(context.Background()))

	res := out.String()
	t.Log(res)
	assert.Contains(t, res, "Text-Based Drug Trafficking Detection System")
	assert.Contains(t, res, "Input      : pills available now")
	assert.Contains(t, res, "Confidence : 85.71%")
	assert.Contains(t, res, "YES, drug trafficking detected")
	assert.Contains(t, res, "      - pills        ██ (risk score: 1.10)")
	assert.Contains(t, res, "      - now          █ (risk score: 0.69)")
	assert.Equal(t, 2, strings.Count(res, "Please enter some text."))

	assert.Contains(t, res, "Input      : sushi in the park")
	assert.Contains(t, res, "Confidence : 80.00%")
	assert.Contains(t, res, "NO, safe text")
	assert.Contains(t, res, "Safe signals found:\n      - sushi\n      - park\n")

	assert.Contains(t, res, "Goodbye!")
	assert.NotContains(t, res, "never checked")
}

func TestConsole_RunEndOfInput(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	c := Console{In: strings.NewReader("xyzzy"), Out: &out, Checker: newDetector(t)}
	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "Confidence : 50.00%")
	assert.NotContains(t, out.String(), "Safe signals found")
	assert.NotContains(t, out.String(), "Goodbye!")
}

type failingChecker struct{}

func (failingChecker) Check(verdict.Request) (verdict.Response, error) {
	return verdict.Response{}, errors.New("no model")
}

func TestConsole_RunErrors(t *testing.T) {
	c := Console{In: strings.NewReader("hello\n"), Out: &bytes.Buffer{}, Checker: failingChecker{}}
	assert.ErrorContains(t, c.Run(context.Background()), "no model")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = Console{In: strings.NewReader("hello\n"), Out: &bytes.Buffer{}, Checker: newDetector(t)}
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}
