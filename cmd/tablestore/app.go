package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/tablestore/dynamo"
	"github.com/jacentio/tablestore/filter"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// backend is what the commands need from a table service.
type backend interface {
	store.TableClient
	ListTables(ctx context.Context, prefix string) ([]string, error)
	DropTable(ctx context.Context, table string) error
}

type app struct {
	v      *viper.Viper
	logger *zap.Logger

	// open connects to the backend. Replaced in tests.
	open func(ctx context.Context, v *viper.Viper, logger *zap.Logger) (backend, error)
}

func newApp() *app {
	return &app{
		v:      newViper(),
		logger: zap.NewNop(),
		open: func(ctx context.Context, v *viper.Viper, logger *zap.Logger) (backend, error) {
			c, err := dynamo.Open(ctx, dynamoConfigFromViper(v), dynamo.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func (a *app) root() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "tablestore",
		Short:         "Inspect and maintain tablestore tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfigFile(a.v, configPath); err != nil {
				return err
			}
			logger, err := loggerFromViper(a.v)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.String("endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	flags.String("region", "", "AWS region")
	flags.String("profile", "", "AWS shared config profile")
	flags.String("schema", "", "table name prefix")
	flags.String("log-level", "info", "log level")
	for key, name := range map[string]string{
		keyEndpoint: "endpoint",
		keyRegion:   "region",
		keyProfile:  "profile",
		keySchema:   "schema",
		keyLogLevel: "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(a.tablesCmd(), a.getCmd(), a.scanCmd(), a.purgeCmd(), a.filterCmd())
	return cmd
}

func (a *app) connect(cmd *cobra.Command) (backend, error) {
	return a.open(cmd.Context(), a.v, a.logger)
}

func (a *app) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables under the configured schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.connect(cmd)
			if err != nil {
				return err
			}
			names, err := b.ListTables(cmd.Context(), schemaFromViper(a.v))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <partition-key> <row-key>",
		Short: "Print one row as YAML",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.connect(cmd)
			if err != nil {
				return err
			}
			rec, err := b.GetEntity(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), viewOf(rec))
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	var (
		where string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "scan <table>",
		Short: "Print the rows of a table as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := filter.Parse(where); err != nil {
				return err
			}
			b, err := a.connect(cmd)
			if err != nil {
				return err
			}
			var rows []recordView
			for rec, err := range b.Query(cmd.Context(), args[0], where) {
				if err != nil {
					return err
				}
				rows = append(rows, viewOf(rec))
				if limit > 0 && len(rows) == limit {
					break
				}
			}
			a.logger.Debug("scan complete", zap.String("table", args[0]), zap.Int("rows", len(rows)))
			return writeYAML(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&where, "filter", "", "filter expression, e.g. \"Name eq 'Acme'\"")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many rows (0 for all)")
	return cmd
}

func (a *app) purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop every table under the configured schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix := schemaFromViper(a.v)
			if prefix == "" {
				return errors.New("purge requires a schema prefix")
			}
			b, err := a.connect(cmd)
			if err != nil {
				return err
			}
			names, err := b.ListTables(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if !yes {
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), "would drop", name)
				}
				return nil
			}
			for _, name := range names {
				if err := b.DropTable(cmd.Context(), name); err != nil {
					return err
				}
				a.logger.Info("table dropped", zap.String("table", name))
				fmt.Fprintln(cmd.OutOrStdout(), "dropped", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "drop the tables instead of listing them")
	return cmd
}

func (a *app) filterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter <expression>",
		Short: "Validate a filter expression and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := filter.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filter.String(e))
			return nil
		},
	}
}

type recordView struct {
	PartitionKey string         `yaml:"partitionKey"`
	RowKey       string         `yaml:"rowKey"`
	VersionTag   string         `yaml:"etag,omitempty"`
	Timestamp    string         `yaml:"timestamp,omitempty"`
	Fields       map[string]any `yaml:"fields,omitempty"`
}

func viewOf(rec store.Record) recordView {
	v := recordView{
		PartitionKey: rec.PartitionKey,
		RowKey:       rec.RowKey,
		VersionTag:   rec.VersionTag,
	}
	if !rec.Timestamp.IsZero() {
		v.Timestamp = schema.FormatTime(rec.Timestamp)
	}
	if len(rec.Fields) > 0 {
		v.Fields = make(map[string]any, len(rec.Fields))
		for _, f := range rec.Fields {
			v.Fields[f.Name] = f.Value
		}
	}
	return v
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
