// Package console implements interactive checking of messages typed by the user.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/umputun/drugwatch/lib/verdict"
)

// Checker checks a message
type Checker interface {
	Check(req verdict.Request) (verdict.Response, error)
}

// Console reads messages line by line and prints verdicts for them
type Console struct {
	In      io.Reader
	Out     io.Writer
	Checker Checker
}

var (
	separator = strings.Repeat("-", 60)
	banner    = strings.Repeat("=", 60)
	illicitC  = color.New(color.FgRed, color.Bold)
	safeC     = color.New(color.FgGreen, color.Bold)
	triggerC  = color.New(color.FgYellow)
)

// Run prints the prompt and checks every entered line until "quit", "exit" or "q", end of input,
// or context cancellation. Empty lines are ignored.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintf(c.Out, "%s\n   Text-Based Drug Trafficking Detection System\n%s\n", banner, banner)
	scanner := bufio.NewScanner(c.In)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "%s\nEnter text to analyze (or 'quit' to exit):\n>> ", separator)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(c.Out)
			return nil
		}

		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "quit", "exit", "q":
			fmt.Fprintln(c.Out, "\nGoodbye!")
			return nil
		case "":
			fmt.Fprint(c.Out, "Please enter some text.\n\n")
			continue
		}

		resp, err := c.Checker.Check(verdict.Request{Msg: text, Source: "console"})
		if err != nil {
			return fmt.Errorf("failed to check message: %w", err)
		}
		c.print(text, resp)
	}
}

func (c *Console) print(text string, resp verdict.Response) {
	fmt.Fprintf(c.Out, "\n   Input      : %s\n", text)
	fmt.Fprintf(c.Out, "   Confidence : %.2f%%\n", resp.Confidence)

	if resp.Illicit {
		illicitC.Fprintln(c.Out, "   Result     : YES, drug trafficking detected")
		illicitC.Fprint(c.Out, "   Status     : ILLICIT, flagged as drug-related.\n\n")
		if len(resp.Triggers) == 0 {
			return
		}
		fmt.Fprintln(c.Out, "   Why? These words triggered the alarm:")
		for _, t := range resp.Triggers {
			bar := strings.Repeat("█", max(int(t.Score*2), 0))
			triggerC.Fprintf(c.Out, "      - %-12s %s (risk score: %.2f)\n", t.Token, bar, t.Score)
		}
		fmt.Fprintln(c.Out)
		return
	}

	safeC.Fprintln(c.Out, "   Result     : NO, safe text")
	safeC.Fprint(c.Out, "   Status     : SAFE, this text appears normal.\n\n")
	if len(resp.Triggers) == 0 {
		return
	}
	fmt.Fprintln(c.Out, "   Safe signals found:")
	for _, t := range resp.Triggers {
		fmt.Fprintf(c.Out, "      - %s\n", t.Token)
	}
	fmt.Fprintln(c.Out)
}
