package main

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tinysmtp/tinysmtp/pkgs/config"
	"github.com/tinysmtp/tinysmtp/pkgs/email"
)

// newSMTPConfig maps an account's settings onto a connection config,
// loading the DKIM key when signing is enabled.
func newSMTPConfig(acc *config.AccountConfig) (email.SMTPConfig, error) {
	maxSize, err := acc.MaxMessageBytes()
	if err != nil {
		return email.SMTPConfig{}, err
	}

	cfg := email.SMTPConfig{
		Host:           acc.SMTP.Host,
		Port:           acc.SMTP.Port,
		Username:       acc.SMTP.Username,
		Password:       acc.SMTP.Password,
		SSL:            acc.SMTP.SSL,
		StartTLS:       acc.SMTP.StartTLS,
		Debug:          acc.SMTP.Debug,
		AuthMechanism:  acc.SMTP.Auth,
		LocalName:      acc.SMTP.LocalName,
		MaxMessageSize: maxSize,
	}
	if acc.SMTP.InsecureSkipVerify {
		cfg.TLSConfig = &tls.Config{
			ServerName:         acc.SMTP.Host,
			InsecureSkipVerify: true,
		}
	}

	if d := acc.SMTP.DKIM; d != nil {
		data, err := os.ReadFile(d.KeyFile)
		if err != nil {
			return email.SMTPConfig{}, fmt.Errorf("read dkim key: %w", err)
		}
		signer, err := email.LoadDKIMKey(data)
		if err != nil {
			return email.SMTPConfig{}, err
		}
		cfg.DKIM = &email.DKIMOptions{
			Domain:   d.Domain,
			Selector: d.Selector,
			Signer:   signer,
		}
	}

	return cfg, nil
}
