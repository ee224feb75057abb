package cmd

import (
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-photosync/pkg/auth"
	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

const defaultRedirectURL = "http://localhost:8080/oauth2callback"

// RunAuthURL prints the consent URL for the client configured through
// GOOGLE_PHOTOS_CLIENT_ID. Exchanging the returned code is left to the user.
func RunAuthURL(flagMap map[string]interface{}) error {
	envConfig, err := config.ApplyEnv(config.NewDefault(), os.LookupEnv)
	if err != nil {
		return err
	}

	redirectURL := defaultRedirectURL
	if v, ok := flagMap["redirect-url"].(string); ok && v != "" {
		redirectURL = v
	}

	authURL, state, err := auth.AuthorizationURL(envConfig.Auth, redirectURL)
	if err != nil {
		return fmt.Errorf("%w (set %s)", err, config.EnvClientID)
	}
	plog.Debug("Generated authorization request", "state", state, "redirect_url", redirectURL)

	fmt.Printf("Open the following URL in a browser and grant read-only access:\n\n%s\n\n", authURL)
	fmt.Printf("Exchange the returned code for a refresh token and set %s.\n", config.EnvRefreshToken)
	return nil
}
