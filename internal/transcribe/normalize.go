package transcribe

import (
	"strconv"
	"strings"
)

// GenericSpeaker labels rows from output without diarization data.
const GenericSpeaker = "Participant"

// Row is one transcript row ready for insertion.
type Row struct {
	Speaker   string  `json:"speaker"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	Index     int     `json:"index"`
}

// DisplaySpeaker maps a provider speaker label to its display form.
// Numeric tags become "Participant N", zero-based "spk_N" labels become
// "Participant N+1", an empty label is the generic participant and anything
// else is kept as is.
func DisplaySpeaker(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return GenericSpeaker
	}
	if n, err := strconv.Atoi(label); err == nil {
		return GenericSpeaker + " " + strconv.Itoa(n)
	}
	if rest, ok := strings.CutPrefix(label, "spk_"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return GenericSpeaker + " " + strconv.Itoa(n+1)
		}
	}
	return label
}

// Normalize turns a provider result into transcript rows with contiguous
// indices starting at 0, in provider order.
//
// Word units are grouped: a new row starts whenever the speaker label
// changes. Segment units map one to one. A result without any speaker label
// becomes a single generic-speaker row holding the full text, or no rows when
// the text is empty.
func Normalize(res *Result) []Row {
	if res == nil {
		return []Row{}
	}
	if !labeled(res.Units) {
		return genericRow(res)
	}
	if res.Segmented {
		return segmentRows(res.Units)
	}
	return groupWords(res.Units)
}

func labeled(units []Unit) bool {
	for _, u := range units {
		if strings.TrimSpace(u.Speaker) != "" {
			return true
		}
	}
	return false
}

// genericRow prefers the provider's full text and falls back to the unit
// texts in order.
func genericRow(res *Result) []Row {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		parts := make([]string, 0, len(res.Units))
		for _, u := range res.Units {
			if t := strings.TrimSpace(u.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	if text == "" {
		return []Row{}
	}
	return []Row{{Speaker: GenericSpeaker, Content: text}}
}

func segmentRows(units []Unit) []Row {
	rows := make([]Row, 0, len(units))
	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		rows = append(rows, Row{
			Speaker:   DisplaySpeaker(u.Speaker),
			Content:   text,
			Timestamp: u.Start,
			Index:     len(rows),
		})
	}
	return rows
}

// groupWords groups consecutive words by the same speaker into rows,
// joining word tokens with spaces.
func groupWords(words []Unit) []Row {
	type group struct {
		speaker string
		start   float64
		words   []string
	}

	var groups []group
	for _, w := range words {
		tok := strings.TrimSpace(w.Text)
		if tok == "" {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].speaker == w.Speaker {
			groups[n-1].words = append(groups[n-1].words, tok)
			continue
		}
		groups = append(groups, group{speaker: w.Speaker, start: w.Start, words: []string{tok}})
	}

	rows := make([]Row, len(groups))
	for i, g := range groups {
		rows[i] = Row{
			Speaker:   DisplaySpeaker(g.speaker),
			Content:   strings.Join(g.words, " "),
			Timestamp: g.start,
			Index:     i,
		}
	}
	return rows
}
