package main

import (
	"github.com/franz/sysex-librarian/internal/store"
	"github.com/spf13/viper"
)

// viperSettings adapts viper to the librarian's settings interface,
// giving the discovery engine its persisted per-synth keys.
type viperSettings struct{}

func (viperSettings) Get(key string) string {
	return viper.GetString(key)
}

func (viperSettings) Set(key, value string) {
	viper.Set(key, value)
	if err := viper.WriteConfig(); err != nil {
		// First run without a config file yet
		_ = viper.SafeWriteConfig()
	}
}

// databasePath resolves the catalog location: flag/env first, else the
// per-user default.
func databasePath() (string, error) {
	if path := viper.GetString("db"); path != "" {
		return path, nil
	}
	return store.DefaultLocation()
}
