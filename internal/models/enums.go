package models

import (
	"database/sql/driver"
	"fmt"
)

// Role is the closed set of account roles. The integer values are the persisted representation.
type Role uint8

const (
	RoleSystemAdmin    Role = 1
	RoleCompanyManager Role = 2
	RoleTeamMember     Role = 3
)

// ParseRole converts a persisted integer into a Role, rejecting unknown values.
func ParseRole(v int64) (Role, error) {
	r := Role(v)
	if v < 0 || v > 255 || !r.Valid() {
		return 0, fmt.Errorf("models: unknown role %d", v)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleCompanyManager, RoleTeamMember:
		return true
	}
	return false
}

func (r Role) String() string {
	switch r {
	case RoleSystemAdmin:
		return "SYSTEM_ADMIN"
	case RoleCompanyManager:
		return "COMPANY_MANAGER"
	case RoleTeamMember:
		return "TEAM_MEMBER"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("models: refusing to persist invalid role %d", uint8(r))
	}
	return int64(r), nil
}

func (r *Role) Scan(src any) error {
	v, err := scanInt(src)
	if err != nil {
		return fmt.Errorf("models: scan role: %w", err)
	}
	parsed, err := ParseRole(v)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Status is the lifecycle state shared by users and companies.
type Status uint8

const (
	StatusActive   Status = 1
	StatusInactive Status = 2
	StatusPending  Status = 3
	// StatusRejected is terminal; it is only reachable from StatusPending.
	StatusRejected Status = 4
)

// ParseStatus converts a persisted integer into a Status, rejecting unknown values.
func ParseStatus(v int64) (Status, error) {
	s := Status(v)
	if v < 0 || v > 255 || !s.Valid() {
		return 0, fmt.Errorf("models: unknown status %d", v)
	}
	return s, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending, StatusRejected:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	case StatusPending:
		return "PENDING"
	case StatusRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("models: refusing to persist invalid status %d", uint8(s))
	}
	return int64(s), nil
}

func (s *Status) Scan(src any) error {
	v, err := scanInt(src)
	if err != nil {
		return fmt.Errorf("models: scan status: %w", err)
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TokenType identifies the kind of token recorded in the blacklist.
type TokenType string

const (
	TokenTypeAccess  TokenType = "ACCESS"
	TokenTypeRefresh TokenType = "REFRESH"
)

// RevokeReason records why a refresh token stopped being usable.
type RevokeReason string

const (
	RevokeManualInvalidation RevokeReason = "MANUAL_INVALIDATION"
	RevokeUserLogout         RevokeReason = "USER_LOGOUT"
	RevokeTokenReuseDetected RevokeReason = "TOKEN_REUSE_DETECTED"
	RevokeRotated            RevokeReason = "ROTATED"
	RevokePasswordReset      RevokeReason = "PASSWORD_RESET"
)

func scanInt(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []byte:
		var n int64
		_, err := fmt.Sscan(string(v), &n)
		return n, err
	case string:
		var n int64
		_, err := fmt.Sscan(v, &n)
		return n, err
	}
	return 0, fmt.Errorf("unsupported type %T", src)
}
