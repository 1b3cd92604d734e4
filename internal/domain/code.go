package domain

// CodePurpose scopes a one-time verification code.
type CodePurpose string

const (
	CodePurposeActivation    CodePurpose = "activation"
	CodePurposePasswordReset CodePurpose = "password_reset"
)

// VerificationCodeLength is the number of digits in a verification code.
const VerificationCodeLength = 6
