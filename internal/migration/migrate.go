package migration

import (
	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
)

// Run executes AutoMigrate for the chat tables
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.ChatRoom{},
		&domain.ChatRoomMember{},
		&domain.ChatMessage{},
		&domain.ChatMessageRead{},
		&domain.ChatNotification{},
	)
}

// RunDev also creates the users table and seeds demo accounts when it is empty.
// Production reads users from the identity gateway's table.
func RunDev(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return err
	}
	if err := Run(db); err != nil {
		return err
	}

	var count int64
	db.Model(&domain.User{}).Count(&count)
	if count == 0 {
		return seedUsers(db)
	}
	return nil
}

func seedUsers(db *gorm.DB) error {
	users := []domain.User{
		{ID: 1, TenantID: "", Role: domain.RoleAdmin, Name: "Platform Admin", Status: domain.StatusActive},
		{ID: 2, TenantID: "acme", Role: domain.RoleHR, Name: "Acme HR", Status: domain.StatusActive},
		{ID: 3, TenantID: "acme", Role: domain.RoleEmployee, Name: "Acme Employee", Status: domain.StatusActive},
		{ID: 4, TenantID: "acme", Role: domain.RoleClient, Name: "Acme Client", Status: domain.StatusActive},
		{ID: 5, TenantID: "globex", Role: domain.RoleHR, Name: "Globex HR", Status: domain.StatusActive},
		{ID: 6, TenantID: "globex", Role: domain.RoleEmployee, Name: "Globex Employee", Status: domain.StatusActive},
	}
	return db.Create(&users).Error
}
