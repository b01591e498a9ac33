package models

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gulfconsultants/portal/internal/account"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "portal.sqlite")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestUser_CreateAndFind(t *testing.T) {
	db := openTestDB(t)

	user := &User{Email: "  Client@Example.COM ", PasswordHash: "x", Role: string(account.RoleClient), IsActive: true}
	require.NoError(t, db.Create(user).Error)
	assert.Len(t, user.ID, 26, "ULID assigned on create")

	var found User
	require.NoError(t, FindByID(db, user.ID, &found))
	assert.Equal(t, "client@example.com", found.Email)

	dup := &User{Email: "client@example.com", PasswordHash: "y", Role: string(account.RoleClient)}
	assert.Error(t, db.Create(dup).Error, "emails are unique")
}

func TestUser_Account(t *testing.T) {
	u := &User{
		BaseModel: BaseModel{ID: "01J0000000000000000000000A"},
		Email:     "admin@example.com",
		Role:      "admin",
		IsActive:  true,
		FirstName: "Huda",
	}

	a := u.Account()
	assert.Equal(t, u.ID, a.ID)
	assert.True(t, a.IsAdmin())
	require.NotNil(t, a.IsActive)
	assert.True(t, *a.IsActive)
	assert.Equal(t, "Huda", a.DisplayName())
}
