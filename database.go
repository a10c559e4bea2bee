package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type database struct {
	db *gorm.DB
}

func newDatabase(driver, dsn string, logLevel logger.LogLevel) (*database, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "mysql":
		normalized, err := mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(normalized)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if driver != "mysql" {
		// SQLite allows a single writer; queue on the pool instead of
		// failing with "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(&Tag{}, &Program{}, &Recording{}, &ProgramTag{}, &RecordingTag{}, &Play{})
	if err != nil {
		return nil, err
	}

	return &database{
		db: db,
	}, nil
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off by
// default.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys") || strings.Contains(path, "_fk=") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

// mysqlDSN makes DATETIME columns scan into time.Time, read back as UTC.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (d *database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// tagJoin describes the edge table linking one entity type to tags.
type tagJoin struct {
	model  any
	table  string
	column string
	edge   func(id, tagID uint64) any
}

var tagJoins = map[EntityType]tagJoin{
	EntityProgram: {
		model:  &Program{},
		table:  "program_tags",
		column: "program_id",
		edge: func(id, tagID uint64) any {
			return &ProgramTag{ProgramID: id, TagID: tagID}
		},
	},
	EntityRecording: {
		model:  &Recording{},
		table:  "recording_tags",
		column: "recording_id",
		edge: func(id, tagID uint64) any {
			return &RecordingTag{RecordingID: id, TagID: tagID}
		},
	},
}

func lookupTagJoin(entity EntityType) (tagJoin, error) {
	join, ok := tagJoins[entity]
	if !ok {
		return tagJoin{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entity)
	}
	return join, nil
}

func getByID[T any](ctx context.Context, db *gorm.DB, entity string, id uint64) (*T, error) {
	var v T
	err := db.WithContext(ctx).Take(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", entity, id, err)
	}
	return &v, nil
}

func exists(db *gorm.DB, model any, id uint64) (bool, error) {
	var count int64
	err := db.Model(model).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// mustExist fails with a ReferentialIntegrityError when the row is missing.
func mustExist(tx *gorm.DB, model any, entity string, id uint64) error {
	ok, err := exists(tx, model, id)
	if err != nil {
		return fmt.Errorf("check %s %d: %w", entity, id, err)
	}
	if !ok {
		return &ReferentialIntegrityError{Entity: entity, ID: id}
	}
	return nil
}

func (d *database) CreateTag(ctx context.Context, name string) (*Tag, error) {
	tag := &Tag{Name: strings.TrimSpace(name)}
	if err := validateStruct(tag); err != nil {
		return nil, err
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Tag{}).Where("name = ?", tag.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("tag %q: %w", tag.Name, ErrDuplicateKey)
		}
		return tx.Create(tag).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("tag %q: %w", tag.Name, ErrDuplicateKey)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

func (d *database) GetTag(ctx context.Context, id uint64) (*Tag, error) {
	return getByID[Tag](ctx, d.db, "tag", id)
}

func (d *database) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	var tag *Tag
	err := d.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// TagsFor returns the tags linked to one program or recording through that
// entity's own join table.
func (d *database) TagsFor(ctx context.Context, entity EntityType, id uint64) ([]*Tag, error) {
	join, err := lookupTagJoin(entity)
	if err != nil {
		return nil, err
	}

	db := d.db.WithContext(ctx)
	ok, err := exists(db, join.model, id)
	if err != nil {
		return nil, fmt.Errorf("check %s %d: %w", entity, id, err)
	}
	if !ok {
		return nil, &NotFoundError{Entity: string(entity), ID: id}
	}

	tags := []*Tag{}
	err = db.Model(&Tag{}).
		Select("tags.id, tags.name").
		Joins("JOIN "+join.table+" ON "+join.table+".tag_id = tags.id").
		Where(join.table+"."+join.column+" = ?", id).
		Order("tags.name").
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("tags of %s %d: %w", entity, id, err)
	}
	return tags, nil
}

// AddTag links a tag to a program or recording. Linking twice is a no-op.
func (d *database) AddTag(ctx context.Context, entity EntityType, id, tagID uint64) error {
	join, err := lookupTagJoin(entity)
	if err != nil {
		return err
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mustExist(tx, join.model, string(entity), id); err != nil {
			return err
		}
		if err := mustExist(tx, &Tag{}, "tag", tagID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(join.edge(id, tagID)).Error
	})
}

// RemoveTag unlinks a tag. Removing a link that does not exist is a no-op.
func (d *database) RemoveTag(ctx context.Context, entity EntityType, id, tagID uint64) error {
	join, err := lookupTagJoin(entity)
	if err != nil {
		return err
	}

	return d.db.WithContext(ctx).
		Where(join.column+" = ? AND tag_id = ?", id, tagID).
		Delete(join.edge(id, tagID)).Error
}

func (d *database) TagProgram(ctx context.Context, programID, tagID uint64) error {
	return d.AddTag(ctx, EntityProgram, programID, tagID)
}

func (d *database) UntagProgram(ctx context.Context, programID, tagID uint64) error {
	return d.RemoveTag(ctx, EntityProgram, programID, tagID)
}

func (d *database) TagRecording(ctx context.Context, recordingID, tagID uint64) error {
	return d.AddTag(ctx, EntityRecording, recordingID, tagID)
}

func (d *database) UntagRecording(ctx context.Context, recordingID, tagID uint64) error {
	return d.RemoveTag(ctx, EntityRecording, recordingID, tagID)
}

func (d *database) CreateProgram(ctx context.Context, program *Program) error {
	if err := validateStruct(program); err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(program).Error
}

func (d *database) GetProgram(ctx context.Context, id uint64) (*Program, error) {
	return getByID[Program](ctx, d.db, "program", id)
}

func (d *database) ProgramTags(ctx context.Context, id uint64) ([]*Tag, error) {
	return d.TagsFor(ctx, EntityProgram, id)
}

func (d *database) CreateRecording(ctx context.Context, recording *Recording) error {
	if err := validateStruct(recording); err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(recording).Error
}

func (d *database) GetRecording(ctx context.Context, id uint64) (*Recording, error) {
	return getByID[Recording](ctx, d.db, "recording", id)
}

func (d *database) RecordingTags(ctx context.Context, id uint64) ([]*Tag, error) {
	return d.TagsFor(ctx, EntityRecording, id)
}
