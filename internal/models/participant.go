package models

import "time"

// Role distinguishes ordinary members from group admins. Admins trigger
// manual settlements and manage membership.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Participant is a member of a group. Participants are never deleted: leaving
// a group sets ExitedAt so expense history keeps resolving.
type Participant struct {
	ID          string
	GroupID     string
	DisplayName string
	Email       string
	Color       string
	Role        Role
	JoinedAt    time.Time
	ExitedAt    *time.Time
}

// IsActive reports whether the participant has not exited the group.
func (p *Participant) IsActive() bool {
	return p.ExitedAt == nil
}

// IsAdmin reports whether the participant holds the admin role.
func (p *Participant) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// colorPalette cycles participant display colors in join order.
var colorPalette = []string{
	"#3B82F6", // blue
	"#EF4444", // red
	"#10B981", // green
	"#F59E0B", // amber
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#06B6D4", // cyan
	"#84CC16", // lime
	"#F97316", // orange
	"#6366F1", // indigo
}

// ParticipantColor returns the display color for the nth participant to join
// a group.
func ParticipantColor(index int) string {
	if index < 0 {
		index = 0
	}
	return colorPalette[index%len(colorPalette)]
}
