package api

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// usernamePattern is the registration charset: no ':', so usernames embed
// safely in the challenge-store value format.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// newValidator builds the request validator with the username rule attached.
func newValidator() *validator.Validate {
	v := validator.New()
	// Never fails: the pattern is static and the field is a string.
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// RegisterRequest is the body of POST /api/v1/auth/register. publicKeyY and
// salt are wire hex; salt is optional opaque metadata.
type RegisterRequest struct {
	Username   string `json:"username" validate:"required,username"`
	PublicKeyY string `json:"publicKeyY" validate:"required,hexadecimal"`
	Salt       string `json:"salt" validate:"omitempty,hexadecimal"`
}

// RegisterResponse is the 201 body.
type RegisterResponse struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
}

// ChallengeRequest is the body of POST /api/v1/auth/challenge.
type ChallengeRequest struct {
	Username string `json:"username" validate:"required,username"`
	ClientR  string `json:"clientR" validate:"required,hexadecimal"`
}

// ChallengeResponse is the 200 body. All big integers are lowercase hex
// without 0x; g encodes the integer 2 as "2".
type ChallengeResponse struct {
	ChallengeID string `json:"challengeId"`
	C           string `json:"c"`
	P           string `json:"p"`
	Q           string `json:"q"`
	G           string `json:"g"`
}

// VerifyRequest is the body of POST /api/v1/auth/verify.
type VerifyRequest struct {
	ChallengeID string `json:"challengeId" validate:"required,uuid4"`
	S           string `json:"s" validate:"required,hexadecimal"`
	ClientR     string `json:"clientR" validate:"required,hexadecimal"`
	Username    string `json:"username" validate:"required,username"`
}

// VerifyResponse is the 200 body of a successful login.
type VerifyResponse struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	Username  string `json:"username"`
	ExpiresIn int64  `json:"expiresIn"`
}

// ErrorResponse is the uniform error body. Code is the HTTP status label,
// never an internal reason.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
