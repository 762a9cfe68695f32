package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/sqldown/internal/config"
)

// configKeys are the settings that may come from flags, SQLDOWN_* variables
// or .sqldown.env files.
var configKeys = []string{
	config.KeyDB,
	config.KeyTable,
	config.KeyPattern,
	config.KeyMaxColumns,
	config.KeyTopSections,
	config.KeyVerbose,
	config.KeyDebounce,
	config.KeyFeedAddr,
	config.KeyLogFile,
	config.KeyGitignore,
}

// resolveSettings layers the command's flags over the environment, the
// .sqldown.env cascade and the defaults. markdownRoot joins the cascade
// when non-empty.
func resolveSettings(cmd *cobra.Command, markdownRoot string) (config.Settings, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to get working directory: %w", err)
	}

	v := config.New(wd)
	if _, err := config.LoadEnvFiles(v, config.EnvFiles(wd, markdownRoot)); err != nil {
		return config.Settings{}, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Settings{}, err
	}
	return config.Load(v), nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range configKeys {
		f := flags.Lookup(key)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", key, err)
		}
	}
	return nil
}

// logOutput returns where component logs go: stderr with --verbose, a
// rotating file with --log-file, both, or nowhere. The returned func closes
// the file.
func logOutput(s config.Settings) (io.Writer, func() error) {
	var writers []io.Writer
	closer := func() error { return nil }

	if s.Verbose {
		writers = append(writers, os.Stderr)
	}
	if s.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		writers = append(writers, lj)
		closer = lj.Close
	}

	switch len(writers) {
	case 0:
		return io.Discard, closer
	case 1:
		return writers[0], closer
	default:
		return io.MultiWriter(writers...), closer
	}
}

func newLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
