package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
)

// MysqlDB stores every key space in a single name/value table.
type MysqlDB struct {
	db *gorm.DB
}

func NewMysqlDB(cfg config.Database) (*MysqlDB, error) {
	dns := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	mysqlDb, err := newMysqlDB(mysql.Open(dns))
	if err != nil {
		return nil, err
	}

	if err := mysqlDb.db.AutoMigrate(&KVTable{}); err != nil {
		return nil, err
	}

	return mysqlDb, nil
}

func newMysqlDB(dialector gorm.Dialector) (*MysqlDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	return &MysqlDB{db: db}, nil
}

func (db *MysqlDB) Put(key []byte, value []byte) error {
	return upsert(db.db, key, value)
}

func (db *MysqlDB) Delete(key []byte) error {
	return db.db.Where("name = ?", string(key)).Delete(&KVTable{}).Error
}

func (db *MysqlDB) Has(key []byte) (bool, error) {
	var count int64
	result := db.db.Model(&KVTable{}).Where("name = ?", string(key)).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}

	return count > 0, nil
}

func (db *MysqlDB) Get(key []byte) ([]byte, error) {
	var row KVTable
	err := db.db.Where("name = ?", string(key)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return row.Value, nil
}

func (db *MysqlDB) Iterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	var rows []KVTable
	result := db.db.Where("name LIKE ?", escapeLike(string(prefix))+"%").Order("name").Find(&rows)
	if result.Error != nil {
		return result.Error
	}

	for _, row := range rows {
		more, err := fn([]byte(row.Name), row.Value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	return nil
}

func (db *MysqlDB) Write(batch *Batch) error {
	return db.db.Transaction(func(dbtx *gorm.DB) error {
		for _, op := range batch.ops {
			if op.delete {
				if err := dbtx.Where("name = ?", string(op.key)).Delete(&KVTable{}).Error; err != nil {
					return err
				}
				continue
			}
			if err := upsert(dbtx, op.key, op.value); err != nil {
				return err
			}
		}

		return nil
	})
}

func (db *MysqlDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func upsert(dbtx *gorm.DB, key []byte, value []byte) error {
	row := KVTable{Name: string(key), Value: value}
	return dbtx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_time"}),
	}).Create(&row).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
