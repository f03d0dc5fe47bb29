package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const version = "1.0.0"

// app holds global options parsed from the command line
type app struct {
	configPath string
	account    string
	verbose    bool
}

func main() {
	a := &app{}

	// Global flags
	flag.StringVar(&a.configPath, "config", "", "Config file (JSON or YAML); defaults to $TINYSMTP_CONFIG")
	flag.StringVar(&a.account, "account", "", "Account name or email to use")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output (includes the SMTP trace when debug is on)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.CommandLine.SetInterspersed(false)
	flag.Parse()

	setupLogging(a.verbose)

	if *showVersion {
		fmt.Printf("tinysmtp v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "send":
		opts := parseSendFlags(cmdArgs)
		acc := a.loadAccount()
		if err := handleSend(os.Stdout, acc, opts); err != nil {
			fatal("send: %v", err)
		}
	case "init":
		if err := handleInit(os.Stdout, a.initPath(cmdArgs)); err != nil {
			fatal("init: %v", err)
		}
	case "version":
		fmt.Printf("tinysmtp v%s\n", version)
	case "help":
		printUsage()
		os.Exit(0)
	default:
		fatal("unknown command '%s'", cmd)
	}
}

func setupLogging(verbose bool) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `tinysmtp v%s - send email over SMTP

Usage:
  tinysmtp [global options] <command> [command options]

Commands:
  send       Build and send an email
  init       Write an example configuration file
  version    Show version information

Global Options:
  --config <path>    Config file (JSON or YAML); defaults to $TINYSMTP_CONFIG
  --account <name>   Account name or email to use
  -v, --verbose      Verbose output
  --version          Show version information

Config Resolution:
  1) --config <path>
  2) env var TINYSMTP_CONFIG
  The SMTP password may be supplied via TINYSMTP_SMTP_PASSWORD.

Send Options:
  --to <emails>          Recipients (comma-separated, repeatable)
  --cc <emails>          CC recipients (comma-separated, repeatable)
  --bcc <emails>         BCC recipients (comma-separated, repeatable)
  --reply-to <email>     Reply-To address
  --subject <text>       Email subject
  --text <text>          Plain text body
  --text-file <path>     Plain text body from file ("-" for stdin)
  --html <html>          HTML body
  --html-file <path>     HTML body from file ("-" for stdin)
  --attachment <path>    Attachment file path (repeatable)
  --inline <path>        Inline attachment file path (repeatable)
  --header "K: V"        Extra header (repeatable)
  --charset <name>       Charset of the text parts (default: utf-8)
  --eml <path>           Start from an existing RFC 5322 message
  --save-mbox <path>     Append the sent message to an mbox file
  --dry-run              Print the message without sending

Examples:
  tinysmtp init ~/.config/tinysmtp/config.yaml
  tinysmtp send --to user@example.com --subject "Hello" --text "Hi!"
  tinysmtp -v send --to a@example.com,b@example.com --subject "Report" \
      --text-file report.txt --attachment report.pdf
  tinysmtp send --to user@example.com --subject "Hi" --html-file mail.html --dry-run
`, version)
}
