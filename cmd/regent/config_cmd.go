package main

import (
	"fmt"
	"os"

	"github.com/fentz26/regent/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var (
	cfgPath  string
	cfgForce bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().StringVar(&cfgPath, "path", "", "Config file path (default ~/.regent/config.yaml)")
	configInitCmd.Flags().BoolVar(&cfgForce, "force", false, "Overwrite an existing config file")
	configShowCmd.Flags().StringVar(&cfgPath, "path", "", "Config file path (default ~/.regent/config.yaml)")

	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}

	if _, err := os.Stat(path); err == nil && !cfgForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadConfig(cfgPath)
	} else {
		cfg, err = config.LoadConfigFromHome()
	}
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
