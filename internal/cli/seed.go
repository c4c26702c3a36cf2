package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"educards-match/internal/infra/memory"
	"educards-match/internal/infra/postgres"
)

// NewSeedCmd loads quiz YAML files into postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store quiz YAML files in the question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}

			db := postgres.OpenDB(cfg.Postgres.URL)
			defer db.Close()
			for _, path := range files {
				quiz, err := memory.ReadQuizFile(path)
				if err != nil {
					return err
				}
				if quiz.ID == "" {
					quiz.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}
				if err := postgres.SaveQuiz(cmd.Context(), db, quiz); err != nil {
					return fmt.Errorf("seed %s: %w", path, err)
				}
				log.Info().Str("quiz_id", quiz.ID).Int("questions", len(quiz.Questions)).Msg("quiz stored")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&files, "file", nil, "quiz YAML file (repeatable)")
	return cmd
}
