package entree

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeTokenNotFound       = "TOKEN_NOT_FOUND"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeInvalidTokenType    = "INVALID_TOKEN_TYPE"
	TextCodeInvalidChecksum     = "INVALID_CHECKSUM"
	TextCodeSiteNotFound        = "SITE_NOT_FOUND"
	TextCodeSiteInactive        = "SITE_INACTIVE"
	TextCodeNoDefaultSite       = "NO_DEFAULT_SITE"
	TextCodeMailCooldown        = "MAIL_COOLDOWN"
	TextCodeAlreadyVerified     = "ALREADY_VERIFIED"
	TextCodeMailNotSent         = "MAIL_NOT_SENT"
	TextCodeResidentSlug        = "RESIDENT_SLUG_CONFLICT"
	TextCodeSiteSlug            = "SITE_SLUG_CONFLICT"
	TextCodeValueTaken          = "VALUE_TAKEN"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts     = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeEmailTaken          = "EMAIL_TAKEN"
	TextCodeIdentityNotFound    = "IDENTITY_NOT_FOUND"
	TextCodeSessionInvalid      = "SESSION_INVALID"
	TextCodeSessionExpired      = "SESSION_EXPIRED"
	TextCodePasswordMismatch    = "PASSWORD_MISMATCH"
	TextCodeUnknownProperty     = "UNKNOWN_PROPERTY"
	TextCodeInvalidPropertyType = "INVALID_PROPERTY_TYPE"
)

var (
	// ErrIdentityNotFound is returned for unknown identities
	ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
				WithTextCode(TextCodeIdentityNotFound).
				WithCode(errors.CodeNotFound)

	// ErrMismatchedHashAndPassword covers both unknown email and wrong password
	ErrMismatchedHashAndPassword = errors.New("invalid email or password", errors.CategoryAuth).
					WithTextCode(TextCodeInvalidCredentials).
					WithCode(errors.CodeUnauthorized)

	// ErrTooManyLoginAttempts is returned while the identity cools down
	ErrTooManyLoginAttempts = errors.New("too many login attempts, try again later", errors.CategoryAuth).
				WithTextCode(TextCodeTooManyAttempts).
				WithCode(errors.CodeUnauthorized)

	// ErrNoEmptyString is returned when hashing a blank password
	ErrNoEmptyString = errors.New("password can not be empty", errors.CategoryValidation)

	ErrTokenNotFound = errors.New("invalid or expired token", errors.CategoryNotFound).
				WithTextCode(TextCodeTokenNotFound).
				WithCode(errors.CodeNotFound)

	ErrInvalidTokenType = errors.New("unable to create token, unknown type", errors.CategoryValidation).
				WithTextCode(TextCodeInvalidTokenType)

	ErrSiteNotFound = errors.New("invalid site id", errors.CategoryNotFound).
			WithTextCode(TextCodeSiteNotFound).
			WithCode(errors.CodeNotFound)

	ErrNoDefaultSite = errors.New("no default client site set", errors.CategoryNotFound).
				WithTextCode(TextCodeNoDefaultSite).
				WithCode(errors.CodeNotFound)

	ErrMailCooldown = errors.New("email was sent a few moments ago, wait for a while", errors.CategoryValidation).
			WithTextCode(TextCodeMailCooldown)

	ErrAlreadyVerified = errors.New("email is already verified", errors.CategoryValidation).
				WithTextCode(TextCodeAlreadyVerified)

	ErrResidentSlug = errors.New("given attribute already exists as resident", errors.CategoryConflict).
			WithTextCode(TextCodeResidentSlug)

	ErrSiteSlug = errors.New("given attribute already exists on a site", errors.CategoryConflict).
			WithTextCode(TextCodeSiteSlug)

	ErrValueTaken = errors.New("given value already taken by some other user, use different value", errors.CategoryConflict).
			WithTextCode(TextCodeValueTaken)

	ErrInvalidChecksum = errors.New("invalid token checksum", errors.CategoryAuth).
				WithTextCode(TextCodeInvalidChecksum).
				WithCode(errors.CodeForbidden)

	ErrSiteInactive = errors.New("origin site is not active", errors.CategoryAuth).
			WithTextCode(TextCodeSiteInactive).
			WithCode(errors.CodeForbidden)

	ErrMailNotSent = errors.New("unable to send email at this time, try later", errors.CategoryOperation).
			WithTextCode(TextCodeMailNotSent)

	ErrEmailTaken = errors.New("an account with this email already exists", errors.CategoryConflict).
			WithTextCode(TextCodeEmailTaken)

	ErrPasswordMismatch = errors.New("both password fields should match", errors.CategoryValidation).
				WithTextCode(TextCodePasswordMismatch)

	ErrInvalidPayload = errors.New("unable to parse request payload", errors.CategoryBadInput).
				WithCode(errors.CodeBadRequest)

	ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
				WithTextCode(TextCodeSessionInvalid).
				WithCode(errors.CodeUnauthorized)

	ErrSessionExpired = errors.New("session has expired", errors.CategoryAuth).
				WithTextCode(TextCodeSessionExpired).
				WithCode(errors.CodeUnauthorized)

	ErrSessionMalformed = errors.New("unable to decode session", errors.CategoryAuth).
				WithTextCode(TextCodeSessionInvalid).
				WithCode(errors.CodeUnauthorized)
)

// forbidden builds the error returned to relying sites on a rejected fetch
func forbidden(msg, textCode string) *errors.Error {
	return errors.New(msg, errors.CategoryAuth).
		WithTextCode(textCode).
		WithCode(errors.CodeForbidden)
}

// HasTextCode reports whether err is a rich error carrying code
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
