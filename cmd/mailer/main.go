// Command mailer consumes queued verification emails from Kafka and delivers them over SMTP.
// The API publishes to the queue when email.delivery is set to kafka.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/visera/backend/internal/app"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/mail"
)

var errSMTPRequired = errors.New("mailer: email.smtp.host (SMTP_HOST) is required")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("visera-mailer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configDir string
	fs.StringVar(&configDir, "config", "", "Directory containing config.yaml")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if strings.TrimSpace(configDir) != "" {
		paths = append(paths, configDir)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.IsProduction()); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	consumer, err := newConsumer(cfg, logger.WithModule("mailer"))
	if err != nil {
		return err
	}
	defer consumer.Close()

	log := logger.WithModule("mailer")
	settings := cfg.Email.KafkaSettings()
	log.Info("mail worker started",
		zap.Strings("brokers", settings.Brokers),
		zap.String("topic", settings.Topic),
		zap.String("group", settings.GroupID),
	)

	if err := consumer.Run(ctx); err != nil {
		return err
	}

	log.Info("mail worker stopped")
	return nil
}

func newConsumer(cfg *app.Config, log *zap.Logger) (*mail.Consumer, error) {
	smtpSettings := cfg.Email.SMTPSettings()
	if !smtpSettings.Enabled {
		return nil, errSMTPRequired
	}

	delivery, err := mail.NewSMTPMailer(smtpSettings)
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}

	consumer, err := mail.NewConsumer(cfg.Email.KafkaSettings(), delivery, log)
	if err != nil {
		return nil, fmt.Errorf("initialise kafka consumer: %w", err)
	}
	return consumer, nil
}
