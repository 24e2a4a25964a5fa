package claim

import (
	"strings"
	"sync"

	"github.com/Proton-105/claim-bot/internal/endpoint"
)

var (
	// DefaultSuccessMarkers are the observed ways the endpoint reports an activation.
	DefaultSuccessMarkers = []string{"success", "activated", "successfully received"}
	// DefaultFailureMarkers veto a positive match.
	DefaultFailureMarkers = []string{"unsuccessful", "not activated", "failed", "invalid", "not successful"}
)

// Classifier decides whether an endpoint response means success.
// Markers are case-insensitive substrings; any failure marker vetoes.
type Classifier struct {
	mu       sync.RWMutex
	positive []string
	negative []string
}

// NewClassifier builds a Classifier, falling back to the default markers for empty lists.
func NewClassifier(positive, negative []string) *Classifier {
	c := &Classifier{}
	c.SetMarkers(positive, negative)
	return c
}

// SetMarkers replaces both marker lists.
func (c *Classifier) SetMarkers(positive, negative []string) {
	pos := normalizeMarkers(positive, DefaultSuccessMarkers)
	neg := normalizeMarkers(negative, DefaultFailureMarkers)

	c.mu.Lock()
	c.positive, c.negative = pos, neg
	c.mu.Unlock()
}

// Success reports whether resp is a success.
// A boolean false status always fails. The message is checked before a textual status.
// A boolean true status without any text counts as success.
func (c *Classifier) Success(resp *endpoint.Response) bool {
	if resp == nil {
		return false
	}
	if resp.Flag != nil && !*resp.Flag {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, text := range []string{resp.Message, textStatus(resp)} {
		if text == "" {
			continue
		}
		if verdict, decided := c.match(text); decided {
			return verdict
		}
	}

	return resp.Flag != nil && *resp.Flag && resp.Message == ""
}

// Match reports whether text carries a positive marker and no negative one.
func (c *Classifier) Match(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	verdict, _ := c.match(text)
	return verdict
}

func (c *Classifier) match(text string) (verdict, decided bool) {
	lower := strings.ToLower(text)
	for _, marker := range c.negative {
		if strings.Contains(lower, marker) {
			return false, true
		}
	}
	for _, marker := range c.positive {
		if strings.Contains(lower, marker) {
			return true, true
		}
	}
	return false, false
}

func textStatus(resp *endpoint.Response) string {
	if resp.Flag != nil {
		return ""
	}
	return resp.Status
}

func normalizeMarkers(markers, fallback []string) []string {
	if len(markers) == 0 {
		markers = fallback
	}

	out := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
