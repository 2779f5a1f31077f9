package credential

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// GoogleScopes are the scopes the stored token must carry
var GoogleScopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
	calendar.CalendarEventsScope,
}

// GoogleTokenSource builds a refreshing token source from the OAuth client file
// and the stored token. Refreshed tokens are written back to the store.
func GoogleTokenSource(ctx context.Context, credentialsFile string, store *TokenStore) (oauth2.TokenSource, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secret file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(b, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secret file: %w", err)
	}

	tok, err := store.Load()
	if err != nil {
		return nil, err
	}

	base := oauthConfig.TokenSource(ctx, tok)
	return oauth2.ReuseTokenSource(tok, NewSavingTokenSource(base, store, tok)), nil
}
