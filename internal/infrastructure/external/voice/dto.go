package voice

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CustomerDTO identifies the calling party as the platform saw it.
type CustomerDTO struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// CallDTO is the authoritative call record fetched from the voice platform
// after a webhook announces call completion. Webhook payloads carry a subset
// of these fields; this record wins whenever both are present.
type CallDTO struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	EndedReason string      `json:"endedReason,omitempty"`
	Transcript  string      `json:"transcript"`
	Summary     string      `json:"summary,omitempty"`
	Customer    CustomerDTO `json:"customer"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	CostUSD     float64     `json:"cost,omitempty"`
}

// DurationSeconds derives the call duration from the start/end timestamps.
// Returns 0 when either timestamp is missing or the range is inverted.
func (c *CallDTO) DurationSeconds() int {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}

	d := c.EndedAt.Sub(*c.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

// HasTranscript reports whether the platform returned any transcript text.
func (c *CallDTO) HasTranscript() bool {
	return c.Transcript != ""
}
