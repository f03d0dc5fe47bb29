package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tinysmtp/tinysmtp/pkgs/config"
)

// initPath picks the target of "init": the positional argument, then
// --config, then $TINYSMTP_CONFIG.
func (a *app) initPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if a.configPath != "" {
		return a.configPath
	}
	path, _ := config.GetEnvConfigPath()
	return path
}

func handleInit(out io.Writer, configPath string) error {
	if configPath == "" {
		return fmt.Errorf("no path given; pass one or set %s", config.EnvConfigPath)
	}
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := config.SaveConfig(configPath, config.ExampleRootConfig()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created config file at: %s\n", configPath)
	if os.Getenv(config.EnvConfigPath) != configPath {
		fmt.Fprintf(out, "Tip: set %s=%s to use this config file.\n", config.EnvConfigPath, configPath)
	}
	fmt.Fprintln(out, "Please edit the file to add your email account credentials.")
	return nil
}
