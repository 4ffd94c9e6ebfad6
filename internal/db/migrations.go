package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension. The sqlite test database has no
		// extensions; vector columns degrade to TEXT there.
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				if tx.Dialector.Name() != "postgres" {
					return nil
				}
				return tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 002: articles table.
		{
			ID: "002_articles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Article{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("articles")
			},
		},

		// Migration 003: topics and mappings.
		{
			ID: "003_topics",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Topic{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&TopicArticleMapping{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("topic_article_mappings", "topics")
			},
		},

		// Migration 004: pending pool.
		{
			ID: "004_pending_articles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PendingArticle{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("pending_articles")
			},
		},
	})

	return m.Migrate()
}
