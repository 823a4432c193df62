// Package mood defines the mood signal exchanged with the fusion stream
// and the small keyword heuristic applied to transcripts. The heuristic
// is a fallback signal only; real mood classification happens in the
// external fusion service.
package mood

import "regexp"

// Known mood states.
const (
	StateAnxious   = "anxious"
	StateConcerned = "concerned"
	StateCalm      = "calm"
	StateUnknown   = "unknown"
)

// Signal is a mood estimate with a confidence in [0,1].
type Signal struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
}

// Unknown returns the zero-information signal.
func Unknown() Signal {
	return Signal{State: StateUnknown, Confidence: 0}
}

// Keyword patterns checked in order; the first match wins.
var (
	anxiousRe   = regexp.MustCompile(`(?i)\b(nervous|anxious|scared|afraid|panick?ing|worried)\b`)
	concernedRe = regexp.MustCompile(`(?i)\b(confused|lost|disoriented|where am i)\b`)
	calmRe      = regexp.MustCompile(`(?i)\b(calm|okay|feeling fine|i'?m fine)\b`)
)

// FromTranscript derives a mood signal from transcript keywords.
// Returns false when no pattern matches.
func FromTranscript(transcript string) (Signal, bool) {
	if transcript == "" {
		return Signal{}, false
	}
	switch {
	case anxiousRe.MatchString(transcript):
		return Signal{State: StateAnxious, Confidence: 0.9}, true
	case concernedRe.MatchString(transcript):
		return Signal{State: StateConcerned, Confidence: 0.75}, true
	case calmRe.MatchString(transcript):
		return Signal{State: StateCalm, Confidence: 0.7}, true
	}
	return Signal{}, false
}

// Merge combines the keyword-derived signal with the latest fusion
// stream signal. A keyword signal keeps its state but takes the higher
// of the two confidences. Without a keyword signal the fusion value is
// used verbatim unless its state is unknown, in which case the merge
// defaults to a zero-confidence calm.
func Merge(keyword Signal, hasKeyword bool, fusion Signal) Signal {
	if hasKeyword {
		conf := keyword.Confidence
		if fusion.Confidence > conf {
			conf = fusion.Confidence
		}
		return Signal{State: keyword.State, Confidence: conf}
	}
	if fusion.State != "" && fusion.State != StateUnknown {
		return fusion
	}
	return Signal{State: StateCalm, Confidence: 0}
}
