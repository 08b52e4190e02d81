package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/types"
	"github.com/earshot-lab/earshot-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	log.Info("Loading environment variables...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "earshot", log)
	log.Debug("Environment variables loaded")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Participant{},
		&types.Phase{},
		&types.Block{},
		&types.Playlist{},
		&types.Section{},
		&types.Session{},
		&types.Result{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	s.log.Info("Configuring foreign key relationships for postgres tables...")
	constraints := []struct {
		name string
		stmt string
	}{
		{
			name: "fk_section_playlist_id",
			stmt: `ALTER TABLE "section" ADD CONSTRAINT "fk_section_playlist_id" FOREIGN KEY ("playlist_id") REFERENCES "playlist"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_session_participant_id",
			stmt: `ALTER TABLE "session" ADD CONSTRAINT "fk_session_participant_id" FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_session_block_id",
			stmt: `ALTER TABLE "session" ADD CONSTRAINT "fk_session_block_id" FOREIGN KEY ("block_id") REFERENCES "block"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_result_session_id",
			stmt: `ALTER TABLE "result" ADD CONSTRAINT "fk_result_session_id" FOREIGN KEY ("session_id") REFERENCES "session"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_result_participant_id",
			stmt: `ALTER TABLE "result" ADD CONSTRAINT "fk_result_participant_id" FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
	}
	for _, c := range constraints {
		exists := s.db.Raw(
			`SELECT COUNT(1) FROM information_schema.table_constraints WHERE constraint_name = ?`, c.name,
		)
		var count int64
		if err := exists.Scan(&count).Error; err != nil {
			return fmt.Errorf("Failed to check constraint %s: %w", c.name, err)
		}
		if count > 0 {
			continue
		}
		if err := s.db.Exec(c.stmt).Error; err != nil {
			return fmt.Errorf("Failed to add %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
