package vitals

import "vital-watch/internal/models"

// TemperatureBand: below 35.5 is Low, above 37.8 is Elevated.
func TemperatureBand(m models.Measurement) models.Band {
	switch {
	case !m.Valid:
		return models.BandUnknown
	case m.Value < 35.5:
		return models.BandLow
	case m.Value > 37.8:
		return models.BandElevated
	default:
		return models.BandNormal
	}
}

func HeartRateBand(m models.Measurement) models.Band {
	switch {
	case !m.Valid:
		return models.BandUnknown
	case m.Value < 60:
		return models.BandLow
	case m.Value > 100:
		return models.BandElevated
	default:
		return models.BandNormal
	}
}

// SpO2Band has no elevated band.
func SpO2Band(m models.Measurement) models.Band {
	switch {
	case !m.Valid:
		return models.BandUnknown
	case m.Value < 95:
		return models.BandLow
	default:
		return models.BandNormal
	}
}

// BloodPressureBand checks Elevated before Low, so a reading that is both reports Elevated.
func BloodPressureBand(bp models.BloodPressure) models.Band {
	switch {
	case bp.Systolic > 140 || bp.Diastolic > 90:
		return models.BandElevated
	case bp.Systolic < 90 || bp.Diastolic < 60:
		return models.BandLow
	default:
		return models.BandNormal
	}
}

func Classify(v models.Vitals) models.VitalStatus {
	return models.VitalStatus{
		Temperature:   TemperatureBand(v.Temperature),
		HeartRate:     HeartRateBand(v.HeartRate),
		SpO2:          SpO2Band(v.SpO2),
		BloodPressure: BloodPressureBand(v.BP),
	}
}

func AlertStatus(level int) string {
	switch level {
	case 1:
		return models.AlertModerateRisk
	case 2:
		return models.AlertHighRisk
	default:
		return models.AlertNormal
	}
}

// EffectiveAlertLevel lets a manual override win over the level reported by the device.
func EffectiveAlertLevel(derived int, override *int) int {
	if override != nil {
		return *override
	}
	return derived
}
