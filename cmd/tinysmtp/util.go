package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tinysmtp/tinysmtp/pkgs/config"
)

func fatal(format string, args ...interface{}) {
	log.Error().Msgf(format, args...)
	os.Exit(1)
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadConfigFile(a.configPath)
	}
	return config.LoadConfig()
}

func (a *app) loadAccount() *config.AccountConfig {
	cfg, err := a.loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		fmt.Fprintf(os.Stderr, "Run 'tinysmtp init <path>' to create a config file\n")
		os.Exit(1)
	}
	acc, err := cfg.GetAccount(a.account)
	if err != nil {
		fatal("%v", err)
	}
	log.Debug().Str("account", acc.Name).Str("host", acc.SMTP.Host).Msg("account selected")
	return acc
}

// splitList splits comma-separated values, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseHeader splits a "Key: Value" flag.
func parseHeader(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid header %q (want \"Key: Value\")", s)
	}
	return key, strings.TrimSpace(value), nil
}

// readBodySource reads body content from a file path or stdin ("-").
func readBodySource(path string, stdin io.Reader) (string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
