package domain

// Registration statuses stamped on progress records.
const (
	RegistrationInProgress = "REGISTRATION_IN_PROGRESS"
	RegistrationComplete   = "REGISTRATION_COMPLETE"
)

// RegistrationStep is a named milestone of profile completion.
type RegistrationStep struct {
	Status            string
	SubStatus         string
	LastStepCompleted string
	NextStep          string
}

var (
	StepBasicDetailsAdded = RegistrationStep{
		Status:            RegistrationInProgress,
		SubStatus:         "BASIC_DETAILS_ADDED",
		LastStepCompleted: "BASIC_DETAILS",
		NextStep:          "ADD_ADDRESS",
	}
	StepAddAddress = RegistrationStep{
		Status:            RegistrationInProgress,
		SubStatus:         "ADD_ADDRESS",
		LastStepCompleted: "ADDRESS",
		NextStep:          "SECURITY_CREDENTIALS",
	}
	StepSecurityCredentialsAdded = RegistrationStep{
		Status:            RegistrationComplete,
		SubStatus:         "SECURITY_CREDENTIALS_ADDED",
		LastStepCompleted: "SECURITY_CREDENTIALS",
	}
)

// StepForLevel maps a completeness level to its step. Level 0 and unknown levels have none.
func StepForLevel(level int) (RegistrationStep, bool) {
	switch level {
	case 1:
		return StepBasicDetailsAdded, true
	case 2:
		return StepAddAddress, true
	case 3:
		return StepSecurityCredentialsAdded, true
	default:
		return RegistrationStep{}, false
	}
}

// NewProgress stamps a progress record for userID from the step.
func (s RegistrationStep) NewProgress(userID string) *RegistrationProgress {
	return &RegistrationProgress{
		UserID:            userID,
		Status:            s.Status,
		SubStatus:         s.SubStatus,
		LastStepCompleted: s.LastStepCompleted,
		NextStep:          s.NextStep,
	}
}
