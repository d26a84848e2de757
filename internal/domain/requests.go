package domain

// Response codes reported back to clients.
const (
	CodeUserCreated            = "USER_CREATED_201"
	CodeUserUpdated            = "USER_UPDATED_200"
	CodeSecurityDetailsUpdated = "SECURITY_DETAILS_UPDATED_200"
)

// RegisterRequest is the data received from the client to open a new profile.
type RegisterRequest struct {
	FirstName            string `json:"firstName" validate:"required,alpha"`
	LastName             string `json:"lastName" validate:"required,alpha"`
	EmailID              string `json:"emailId" validate:"required,email"`
	Password             string `json:"password" validate:"required,password"`
	PrimaryContactNumber string `json:"primaryContactNumber" validate:"required,contact"`
}

// ContactUpdate adds a contact number, optionally making it the primary one.
type ContactUpdate struct {
	ContactNumber string `json:"contactNumber" validate:"required,contact"`
	IsPrimary     bool   `json:"isPrimary"`
}

// AddressUpdate replaces the address of the same type.
type AddressUpdate struct {
	Address Address `json:"address" validate:"required"`
}

// UserUpdateRequest patches a user. LockUser is set internally by the lockout flow only.
type UserUpdateRequest struct {
	LockUser      bool           `json:"-"`
	UpdateContact *ContactUpdate `json:"updateContactDto,omitempty" validate:"omitempty"`
	UpdateAddress *AddressUpdate `json:"updateAddressDto,omitempty" validate:"omitempty"`
}

// QuestionAnswer is an incoming security question with its plain answer.
type QuestionAnswer struct {
	Question string `json:"question" validate:"required,max=200"`
	Answer   string `json:"answer" validate:"required,answer"`
}

// SecurityUpdateRequest either sets security questions or records a failed login, never both.
type SecurityUpdateRequest struct {
	SecurityQuestions []QuestionAnswer `json:"securityQuestions" validate:"omitempty,dive"`
	LoginFailed       bool             `json:"-"`
}

// UserResponse is the result object returned by every mutating operation.
type UserResponse struct {
	UserID       string `json:"userId"`
	Response     string `json:"response"`
	ResponseCode string `json:"responseCode"`
	DisableUser  bool   `json:"disableUser,omitempty"`
}
