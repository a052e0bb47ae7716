package db

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
)

func newMockMysqlDB(t *testing.T) (*MysqlDB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database, err := newMysqlDB(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}))
	require.NoError(t, err)
	return database, mock
}

func TestMysqlDB_Put(t *testing.T) {
	database, mock := newMockMysqlDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `relayer_kv`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := database.Put([]byte("marker:1:0x01"), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMysqlDB_Get(t *testing.T) {
	database, mock := newMockMysqlDB(t)

	rows := sqlmock.NewRows([]string{"id", "name", "value", "updated_time", "created_time"}).
		AddRow(1, "nonce:1:0xabc", []byte("42"), time.Now(), time.Now())
	mock.ExpectQuery("SELECT \\* FROM `relayer_kv` WHERE name = \\?").WillReturnRows(rows)

	val, err := database.Get([]byte("nonce:1:0xabc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "42" {
		t.Errorf("got %q, want 42", val)
	}

	mock.ExpectQuery("SELECT \\* FROM `relayer_kv` WHERE name = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "value", "updated_time", "created_time"}))
	_, err = database.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMysqlDB_WriteIsTransactional(t *testing.T) {
	database, mock := newMockMysqlDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `relayer_kv` WHERE name = \\?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `relayer_kv`").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	batch := NewBatch()
	batch.Delete([]byte("msgstate:sent:0x01"))
	batch.Put([]byte("msgstate:relayed:0x01"), []byte{})
	require.NoError(t, database.Write(batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `a\_b\%c\\`, escapeLike(`a_b%c\`))
}
