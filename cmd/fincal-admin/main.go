// Command fincal-admin bootstraps users and mints API tokens.
//
//	fincal-admin create-user -name alice -balance 1200.50 -tz Europe/Rome
//	fincal-admin token -user <id> -ttl 720h
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"fincal/internal/cli"
	"fincal/internal/core"
	apphttp "fincal/internal/http"
	applog "fincal/internal/log"

	"github.com/google/uuid"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(applog.ComponentAuth)
	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	auth := apphttp.NewAuthenticator(cfg.JWTSecret)

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "create-user":
		store := cli.InitStore(ctx, logger, cfg)
		err = createUser(ctx, store.Store, auth, os.Args[2:])
		if cerr := store.Cleanup(); cerr != nil {
			logger.Warn("Failed to close store", applog.FieldError, cerr)
		}
	case "token":
		err = mintToken(auth, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], applog.FieldError, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fincal-admin <create-user|token> [flags]")
}

type userCreator interface {
	CreateUser(ctx context.Context, u core.User) error
}

func createUser(ctx context.Context, store userCreator, auth *apphttp.Authenticator, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	name := fs.String("name", "", "unique user name")
	balance := fs.String("balance", "0", "starting checking balance")
	tz := fs.String("tz", "", "IANA time zone, empty for the server default")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("-name is required")
	}
	if *tz != "" {
		if _, err := time.LoadLocation(*tz); err != nil {
			return fmt.Errorf("invalid -tz: %w", err)
		}
	}
	amount, err := core.ParseAmount(*balance)
	if err != nil {
		return fmt.Errorf("invalid -balance: %w", err)
	}

	user := core.User{
		ID:              uuid.NewString(),
		UserName:        strings.TrimSpace(*name),
		CheckingBalance: amount,
		TimeZone:        *tz,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	token, err := auth.IssueToken(user.ID, *ttl)
	if err != nil {
		return err
	}
	fmt.Printf("user_id=%s\ntoken=%s\n", user.ID, token)
	return nil
}

func mintToken(auth *apphttp.Authenticator, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	token, err := auth.IssueToken(*userID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
