// Command userdir keeps a locally-persisted, queryable copy of a remote
// user directory and serves reads even when the remote is unreachable.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sashemishi/userdir/internal/remote"
	"github.com/Sashemishi/userdir/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "userdir",
	Short: "Offline-first user directory",
	Long: `userdir maintains a local SQLite copy of a remote user directory.

Reads are always served from the local store, so the directory stays
fully usable offline. A refresh fetches the remote record set and
upserts it into the store; a failed refresh keeps last-known-good data.

Configuration is read from flags, USERDIR_* environment variables, or
$HOME/.userdir/userdir.yaml (in that order of precedence).`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.userdir/userdir.yaml)")
	rootCmd.PersistentFlags().String("db", "", "path to the local database (default $HOME/.userdir/userdir.db)")
	rootCmd.PersistentFlags().String("url", "", "remote endpoint returning the record set as a JSON array")
	rootCmd.PersistentFlags().String("snapshot", "", "local JSON snapshot file used instead of the remote endpoint")

	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("snapshot", rootCmd.PersistentFlags().Lookup("snapshot"))
}

// initConfig reads the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".userdir"))
		viper.SetConfigName("userdir")
	}

	viper.SetEnvPrefix("USERDIR")
	viper.AutomaticEnv()

	// Missing config file is fine; flags and env still apply.
	_ = viper.ReadInConfig()
}

// dbPath resolves the local database location.
func dbPath() string {
	if p := viper.GetString("db"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "userdir.db"
	}
	return filepath.Join(home, ".userdir", "userdir.db")
}

// openStore opens the local store and ensures its schema exists.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(dbPath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newSource builds the configured remote source. A snapshot file takes
// precedence over the HTTP endpoint.
func newSource() (remote.Source, error) {
	if p := viper.GetString("snapshot"); p != "" {
		return remote.NewFileSource(p), nil
	}
	if u := viper.GetString("url"); u != "" {
		return remote.NewHTTPSource(u, nil), nil
	}
	return nil, fmt.Errorf("no remote source configured (set --url or --snapshot)")
}
