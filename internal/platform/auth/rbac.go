package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin            = "admin"
	RoleDoctor           = "doctor"
	RoleNurse            = "nurse"
	RoleLabTechnician    = "lab_technician"
	RoleRadiologist      = "radiologist"
	RolePharmacist       = "pharmacist"
	RoleReceptionist     = "receptionist"
	RoleParamedic        = "paramedic"
	RoleDispatcher       = "dispatcher"
	RoleBloodBankOfficer = "blood_bank_officer"
	RoleRecordsOfficer   = "records_officer"
)

var knownRoles = map[string]bool{
	RoleAdmin: true, RoleDoctor: true, RoleNurse: true, RoleLabTechnician: true,
	RoleRadiologist: true, RolePharmacist: true, RoleReceptionist: true,
	RoleParamedic: true, RoleDispatcher: true, RoleBloodBankOfficer: true,
	RoleRecordsOfficer: true,
}

// ValidRole reports whether role is one of the staff roles above.
func ValidRole(role string) bool {
	return knownRoles[role]
}

// HasRole reports whether roles grants one of required. admin grants all.
func HasRole(roles []string, required ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
