package patient

// NEWS computes the National Early Warning Score 2 of an observation set
// (SpO2 scale 1). Missing measurements contribute nothing.
func NEWS(v *VitalsLog) int {
	score := 0

	if rr := v.RespiratoryRate; rr != nil {
		switch {
		case *rr <= 8:
			score += 3
		case *rr <= 11:
			score += 1
		case *rr <= 20:
		case *rr <= 24:
			score += 2
		default:
			score += 3
		}
	}

	if spo2 := v.SpO2; spo2 != nil {
		switch {
		case *spo2 <= 91:
			score += 3
		case *spo2 <= 93:
			score += 2
		case *spo2 <= 95:
			score += 1
		}
	}

	if v.OnOxygen {
		score += 2
	}

	if t := v.Temperature; t != nil {
		switch {
		case *t <= 35.0:
			score += 3
		case *t <= 36.0:
			score += 1
		case *t <= 38.0:
		case *t <= 39.0:
			score += 1
		default:
			score += 2
		}
	}

	if sbp := v.SystolicBP; sbp != nil {
		switch {
		case *sbp <= 90:
			score += 3
		case *sbp <= 100:
			score += 2
		case *sbp <= 110:
			score += 1
		case *sbp <= 219:
		default:
			score += 3
		}
	}

	if hr := v.HeartRate; hr != nil {
		switch {
		case *hr <= 40:
			score += 3
		case *hr <= 50:
			score += 1
		case *hr <= 90:
		case *hr <= 110:
			score += 1
		case *hr <= 130:
			score += 2
		default:
			score += 3
		}
	}

	if v.Consciousness != "" && v.Consciousness != Alert {
		score += 3
	}

	return score
}

// RiskFromNEWS maps an early warning score onto the 0-100 risk scale.
func RiskFromNEWS(news int) int {
	risk := news * 5
	if risk > 100 {
		return 100
	}
	return risk
}
