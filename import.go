package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"msgarchive/internal/events"
	"msgarchive/internal/redis"
	"msgarchive/internal/service/archive"
)

func importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import messages from a JSON file",
		Long: "Reads either {\"messages\": [...]} or a bare array of messages and stores them.\n" +
			"Messages already in the archive are skipped and reported as duplicates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			records, err := decodeImportFile(data)
			if err != nil {
				return err
			}

			db, driver, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			rdb, err := redis.NewRedisClient(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()
			// with redis configured, running servers see the import
			broker := events.NewBroker(rdb)
			defer broker.Close()

			service, err := archive.NewService(db, driver, archive.Options{
				Cache:    rdb,
				CacheTTL: time.Duration(cfg.BasicConfig.ThreadCacheTTL) * time.Second,
				Events:   broker,
			})
			if err != nil {
				return err
			}
			result, err := service.BulkImport(cmd.Context(), records)
			if err != nil {
				return err
			}
			logger.Info("import finished", "file", file, "stored", result.Count, "duplicates", result.Duplicates)
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d messages, skipped %d duplicates\n", result.Count, result.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// decodeImportFile accepts the upload body shape or a bare array.
func decodeImportFile(data []byte) ([]archive.ImportRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("import file is empty")
	}
	var records []archive.ImportRecord
	if data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode import file: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Messages []archive.ImportRecord `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode import file: %w", err)
	}
	if wrapped.Messages == nil {
		return nil, errors.New("import file has no messages array")
	}
	return wrapped.Messages, nil
}
