// Package verdict defines request and response types of message checks, shared by the detector,
// the web API and storage.
package verdict

import (
	"fmt"
	"strings"

	"github.com/umputun/drugwatch/lib/textclass"
)

// Request is a request to check a message
type Request struct {
	Msg       string `json:"msg"`        // message to check
	Source    string `json:"source"`     // where the message came from, e.g. "console" or "api"
	CheckOnly bool   `json:"check_only"` // if true, only check the message, don't record the result
}

func (r *Request) String() string {
	return fmt.Sprintf("msg:%q, source:%q", r.Msg, r.Source)
}

// Response is a result of a message check
type Response struct {
	Msg         string                   `json:"msg"`                   // checked message
	Label       textclass.Label          `json:"label"`                 // predicted label
	Illicit     bool                     `json:"illicit"`               // true if predicted label is illicit
	Flagged     bool                     `json:"flagged"`               // true if illicit with confidence above the threshold
	Confidence  float64                  `json:"confidence"`            // confidence of the predicted label, percent
	Triggers    []textclass.Contribution `json:"triggers"`              // tokens supporting the decision, strongest first
	Explanation []textclass.Contribution `json:"explanation,omitempty"` // all known tokens, sorted by score
	Generation  uint64                   `json:"generation"`            // model generation used for the check
}

func (r *Response) String() string {
	status := "safe"
	if r.Illicit {
		status = "illicit"
	}
	return fmt.Sprintf("%s (%.2f%%), triggers: %s", status, r.Confidence, TriggersToString(r.Triggers))
}

// TriggersToString converts a slice of contributions to a string
func TriggersToString(triggers []textclass.Contribution) string {
	elems := []string{}
	for _, c := range triggers {
		elems = append(elems, fmt.Sprintf("{%s: %.2f}", c.Token, c.Score))
	}
	return fmt.Sprintf("[%s]", strings.Join(elems, ", "))
}
