package blueprint

const (
	baseScore     = 80
	richMenuBonus = 5
	approveScore  = 75
)

// Evaluate scores a blueprint deterministically.
func Evaluate(b Blueprint) EvaluatorReport {
	score := baseScore
	if len(b.Menu) >= 4 {
		score += richMenuBonus
	}
	if score > 100 {
		score = 100
	}
	report := EvaluatorReport{
		Score: score,
		Breakdown: Breakdown{
			Clarity:      80,
			Completeness: 80,
			Safety:       90,
			UX:           75,
			I18n:         80,
		},
		Reasons: []string{"ok"},
		Action:  ActionApprove,
	}
	if score < approveScore {
		report.Reasons = []string{"low_score"}
		report.Action = ActionRegenerate
	}
	return report
}
