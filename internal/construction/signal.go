package construction

import "github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"

// MatchSignal maps an internal similarity score to the qualitative signal
// shown to reviewers. Scores in the upper half of the band above threshold
// are strong. This is the only place a score is translated for display.
func MatchSignal(score, threshold float64) apptype.Signal {
	if score >= threshold+(1-threshold)/2 {
		return apptype.SignalStrongPossibleMatch
	}
	return apptype.SignalPossibleMatch
}

func suggestions(matches []apptype.Match, threshold float64) []apptype.Suggestion {
	out := make([]apptype.Suggestion, 0, len(matches))
	for _, m := range matches {
		out = append(out, apptype.Suggestion{
			EntityID:    m.EntityID,
			DisplayName: m.Name,
			Description: m.Description,
			Signal:      MatchSignal(m.Score, threshold),
		})
	}
	return out
}
