package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mgraph-tools/graphauth/internal/browser"
)

// BrowserProviderTimeout bounds how long the built-in provider waits for
// the user to complete the interactive flow.
const BrowserProviderTimeout = 5 * time.Minute

// BrowserProvider is the built-in interactive TokenProvider: it starts the
// local callback server, opens the authorization URL in the user's browser
// (printing it when no browser is available), and waits for the redirect
// carrying the authorization code.
func BrowserProvider(noBrowser bool) TokenProvider {
	return func(ctx context.Context, authURL string) (string, error) {
		server := newCallbackServer(callbackPort)
		if err := server.Start(); err != nil {
			return "", err
		}
		defer server.Stop()

		if noBrowser || !browser.IsAvailable() {
			log.Infof("Please open this URL in your browser:\n\n%s\n", authURL)
		} else if err := browser.OpenURL(authURL); err != nil {
			log.Infof("Please manually open this URL in your browser:\n\n%s\n", authURL)
		} else {
			log.Info("Opened browser for authentication, waiting for callback...")
		}

		return server.Wait(ctx, stateFromAuthURL(authURL), BrowserProviderTimeout)
	}
}
