package patient

import "testing"

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }
func stp(v Status) *Status  { return &v }

func TestNEWS(t *testing.T) {
	tests := []struct {
		name string
		v    VitalsLog
		want int
	}{
		{"empty", VitalsLog{}, 0},
		{"normal adult", VitalsLog{
			HeartRate: ip(72), SystolicBP: ip(124), RespiratoryRate: ip(14),
			SpO2: ip(98), Temperature: fp(36.8), Consciousness: Alert,
		}, 0},
		{"tachypnoea", VitalsLog{RespiratoryRate: ip(22)}, 2},
		{"bradypnoea", VitalsLog{RespiratoryRate: ip(8)}, 3},
		{"low saturation on oxygen", VitalsLog{SpO2: ip(92), OnOxygen: true}, 4},
		{"hypothermia", VitalsLog{Temperature: fp(34.9)}, 3},
		{"fever", VitalsLog{Temperature: fp(39.5)}, 2},
		{"hypotension", VitalsLog{SystolicBP: ip(88)}, 3},
		{"hypertension", VitalsLog{SystolicBP: ip(220)}, 3},
		{"mild tachycardia", VitalsLog{HeartRate: ip(105)}, 1},
		{"severe tachycardia", VitalsLog{HeartRate: ip(140)}, 3},
		{"new confusion", VitalsLog{Consciousness: Confusion}, 3},
		{"septic picture", VitalsLog{
			HeartRate: ip(125), SystolicBP: ip(95), RespiratoryRate: ip(26),
			SpO2: ip(93), Temperature: fp(39.2), Consciousness: Voice,
		}, 2 + 2 + 3 + 2 + 2 + 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NEWS(&tt.v); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRiskFromNEWS(t *testing.T) {
	for news, want := range map[int]int{0: 0, 3: 15, 7: 35, 20: 100, 25: 100} {
		if got := RiskFromNEWS(news); got != want {
			t.Errorf("RiskFromNEWS(%d): expected %d, got %d", news, want, got)
		}
	}
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{29, RiskLow},
		{30, RiskMedium},
		{59, RiskMedium},
		{60, RiskHigh},
		{79, RiskHigh},
		{80, RiskCritical},
		{100, RiskCritical},
	}
	for _, tt := range tests {
		if got := RiskLevelFor(tt.score); got != tt.want {
			t.Errorf("RiskLevelFor(%d): expected %s, got %s", tt.score, tt.want, got)
		}
	}
}
