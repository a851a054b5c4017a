package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors. Typed variants below carry the offending value and match
// their sentinel through errors.Is.
var (
	ErrNoRoles              = errors.New("no roles supplied")
	ErrInvalidGuild         = errors.New("guild is not registered")
	ErrInvalidRole          = errors.New("role cannot be bound")
	ErrInvalidMeaning       = errors.New("role meaning is not registered")
	ErrRoleOverwrite        = errors.New("role binding already exists")
	ErrNoCode               = errors.New("no pending verification")
	ErrInvalidCode          = errors.New("verification code does not match")
	ErrAccountAlreadyLinked = errors.New("nation is already linked")
	ErrMeaningRegistered    = errors.New("role meaning already registered")
	ErrNoGuildBinding       = errors.New("guild has no role bindings")
	ErrNoNation             = errors.New("nation not found")
	ErrNoRegion             = errors.New("region not found")
	ErrNoGuilds             = errors.New("no shared guilds")
	ErrNoMeanings           = errors.New("no applicable role meanings")
	ErrExternalService      = errors.New("external service failure")
)

type InvalidGuildError struct {
	GuildID string
}

func (e *InvalidGuildError) Error() string {
	return fmt.Sprintf("guild %s has no registered region", e.GuildID)
}

func (e *InvalidGuildError) Is(target error) bool { return target == ErrInvalidGuild }

type InvalidRoleError struct {
	RoleID string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("role %s cannot be bound in this guild", e.RoleID)
}

func (e *InvalidRoleError) Is(target error) bool { return target == ErrInvalidRole }

type InvalidMeaningError struct {
	Meaning string
}

func (e *InvalidMeaningError) Error() string {
	return fmt.Sprintf("role meaning %q is not registered", e.Meaning)
}

func (e *InvalidMeaningError) Is(target error) bool { return target == ErrInvalidMeaning }

type RoleOverwriteError struct {
	Meaning        string
	ExistingRoleID string
}

func (e *RoleOverwriteError) Error() string {
	return fmt.Sprintf("meaning %q is already bound to role %s", e.Meaning, e.ExistingRoleID)
}

func (e *RoleOverwriteError) Is(target error) bool { return target == ErrRoleOverwrite }

type InvalidCodeError struct {
	Submitted string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("verification code %q does not match", e.Submitted)
}

func (e *InvalidCodeError) Is(target error) bool { return target == ErrInvalidCode }

type AccountAlreadyLinkedError struct {
	Nation string
}

func (e *AccountAlreadyLinkedError) Error() string {
	return fmt.Sprintf("nation %s is already linked", e.Nation)
}

func (e *AccountAlreadyLinkedError) Is(target error) bool { return target == ErrAccountAlreadyLinked }

type MeaningRegisteredError struct {
	Meaning string
}

func (e *MeaningRegisteredError) Error() string {
	return fmt.Sprintf("role meaning %q already registered", e.Meaning)
}

func (e *MeaningRegisteredError) Is(target error) bool { return target == ErrMeaningRegistered }

type NoGuildBindingError struct {
	GuildID string
}

func (e *NoGuildBindingError) Error() string {
	return fmt.Sprintf("guild %s has no applicable role bindings", e.GuildID)
}

func (e *NoGuildBindingError) Is(target error) bool { return target == ErrNoGuildBinding }

type NoNationError struct {
	Name string
}

func (e *NoNationError) Error() string {
	if e.Name == "" {
		return ErrNoNation.Error()
	}
	return fmt.Sprintf("nation %s not found", e.Name)
}

func (e *NoNationError) Is(target error) bool { return target == ErrNoNation }

type NoRegionError struct {
	Name string
}

func (e *NoRegionError) Error() string {
	return fmt.Sprintf("region %s not found", e.Name)
}

func (e *NoRegionError) Is(target error) bool { return target == ErrNoRegion }

// ExternalServiceError wraps a transport or protocol failure from
// NationStates or Discord.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// Retryable reports whether repeating the call later may succeed.
func (e *ExternalServiceError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}
