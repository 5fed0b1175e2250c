package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/habedi/inspecta/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitDB tests the initialization of the database.
// It sets up a temporary directory, initializes the database, and checks if the database file is created successfully.
func TestInitDB(t *testing.T) {
	tempDir := t.TempDir()
	db.Path = filepath.Join(tempDir, ".inspecta", "session.db")
	err := db.InitDB()
	require.NoError(t, err, "InitDB should not return an error")

	_, statErr := os.Stat(db.Path)
	assert.NoError(t, statErr, "Database file should exist")
	assert.Same(t, db.Db, db.GetDB())

	closeErr := db.CloseDB()
	assert.NoError(t, closeErr, "CloseDB should not return an error")
	assert.Nil(t, db.GetDB(), "CloseDB should drop the handle")
}

func TestCloseDB_WithoutInit(t *testing.T) {
	db.Db = nil
	assert.NoError(t, db.CloseDB())
}

func TestOpenInMemory_IsolatedDatabases(t *testing.T) {
	first, err := db.OpenInMemory()
	require.NoError(t, err)
	second, err := db.OpenInMemory()
	require.NoError(t, err)

	require.NoError(t, first.Create(&db.Token{ID: 1, AccessToken: "a"}).Error)

	var count int64
	require.NoError(t, second.Model(&db.Token{}).Count(&count).Error)
	assert.Zero(t, count)
}
