package main

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/zalando/go-keyring"
)

const (
	tokenFileName  = "provider_token"
	keyringService = "propctl"
	keyringUser    = "provider_token"
)

var (
	authCmd = &cli.Command{
		Name:   "auth",
		Usage:  "Store the data provider access token",
		Action: cmdAuth,
	}
)

func cmdAuth(c *cli.Context) error {
	fmt.Print("Paste the provider access token and hit enter:\n> ")

	var token string
	if _, err := fmt.Scanln(&token); err != nil {
		return errors.Wrap(err, "failed to read token")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}

	if err := saveProviderToken(token); err != nil {
		return errors.Wrap(err, "failed to save token")
	}

	fmt.Println("Token saved")
	return nil
}

func saveProviderToken(token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		log.Warnf("keychain unavailable, falling back to file: %v", err)
		return saveProviderTokenFile(token)
	}

	// clean up a legacy file token if one exists
	os.Remove(path.Join(getHomeDir(), tokenFileName))
	return nil
}

func saveProviderTokenFile(token string) error {
	tokenPath := path.Join(getHomeDir(), tokenFileName)
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return errors.Wrapf(err, "failed to write token file: %s", tokenPath)
	}
	return nil
}

func getProviderToken() (string, error) {
	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token, nil
	}

	b, err := os.ReadFile(path.Join(getHomeDir(), tokenFileName))
	if err != nil {
		return "", errors.Wrap(err, "no provider token in keychain or file")
	}
	return strings.TrimSpace(string(b)), nil
}
