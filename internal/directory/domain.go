package directory

import (
	"errors"
	"time"
)

// Position enumerates organizational roles. The set is closed: approval
// routing dispatches on these tags and nothing else.
type Position string

const (
	PositionSiteSupervisor         Position = "site_supervisor"
	PositionDepartmentManager      Position = "department_manager"
	PositionSeniorManagingDirector Position = "senior_managing_director"
	PositionPresident              Position = "president"
	PositionManagingDirector       Position = "managing_director"
	PositionAccountant             Position = "accountant"
	PositionStaff                  Position = "staff"
	PositionAdmin                  Position = "admin"
	PositionSuperAdmin             Position = "super_admin"
)

// Valid reports whether p belongs to the closed position set.
func (p Position) Valid() bool {
	switch p {
	case PositionSiteSupervisor, PositionDepartmentManager, PositionSeniorManagingDirector,
		PositionPresident, PositionManagingDirector, PositionAccountant,
		PositionStaff, PositionAdmin, PositionSuperAdmin:
		return true
	}
	return false
}

// UserType separates internal staff from external partner accounts.
type UserType string

const (
	UserTypeInternal UserType = "internal"
	UserTypePartner  UserType = "partner"
)

// User represents a directory account relevant to approval routing.
type User struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	UserType        UserType  `json:"user_type"`
	Position        Position  `json:"position"`
	CompanyID       int64     `json:"company_id"`
	IsActive        bool      `json:"is_active"`
	IsPrimaryHolder bool      `json:"is_primary_holder"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsPartner reports whether the user is an external partner account.
func (u User) IsPartner() bool {
	return u.UserType == UserTypePartner
}

// IsSuperAdmin reports whether the user may bypass submission gates
// unconditionally.
func (u User) IsSuperAdmin() bool {
	return u.Position == PositionSuperAdmin
}

// Company is the owning organization of users and sites.
type Company struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ErrUserNotFound indicates the user id does not resolve.
var ErrUserNotFound = errors.New("directory: user not found")
