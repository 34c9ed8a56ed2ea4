package models

import (
	"context"
	"time"

	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
)

type UserRole string

const (
	UserRoleAdmin      UserRole = "admin"
	UserRoleModerator  UserRole = "moderator"
	UserRoleCallCenter UserRole = "call_center"
	UserRoleSeller     UserRole = "seller"
	UserRoleProvider   UserRole = "provider"
)

// Roles allowed to drive the order status state machine.
func RoleCanChangeOrderStatus(role UserRole) bool {
	switch role {
	case UserRoleAdmin, UserRoleModerator, UserRoleCallCenter:
		return true
	}
	return false
}

// Roles allowed to record manual stock movements and generate invoices.
func RoleCanManageStock(role UserRole) bool {
	return role == UserRoleAdmin || role == UserRoleModerator
}

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('admin','moderator','call_center','seller','provider');not null" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUserByEmail(ctx context.Context, email string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

// ActorFromContext resolves the acting user {id, role} stashed by the auth
// middleware. Returns Unauthorized when the request carries no actor.
func ActorFromContext(ctx context.Context) (int, UserRole, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return 0, "", utils.ErrorUnauthorized
	}
	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || role == "" {
		return 0, "", utils.ErrorUnauthorized
	}
	return userId, UserRole(role), nil
}
