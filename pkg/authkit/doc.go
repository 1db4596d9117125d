/*
Package authkit is the client-side session layer for the AuthKit backend:
login, registration, token renewal, and a persistent, observable session
state machine.

# Client vs Manager

The package is organized around two types:

  - Client: one method per backend auth endpoint, stateless
  - Manager: the session state machine layered on top of a Client

Use a Client directly when you only need the endpoints:

	transport, err := httpx.New("https://api.example.com")
	client := authkit.NewClient(transport)

	pair, err := client.Login(ctx, authkit.Credentials{Email: email, Password: password})

Most programs want the Manager, which owns the tokens, persists them across
restarts, renews them proactively before expiry and reactively on a 401, and
exposes the session as a snapshot:

	m, err := authkit.New(authkit.Config{
		BaseURL:     "https://api.example.com",
		Store:       store,
		AutoRefresh: true,
		OnSessionExpired: func() { promptLogin() },
	})
	defer m.Close()

	// Adopt a persisted session, if any.
	if err := m.Bootstrap(ctx); err != nil {
		return err
	}

	if !m.State().IsAuthenticated() {
		if err := m.Login(ctx, creds); err != nil {
			return err
		}
	}

	user := m.State().User

# State

State is a value snapshot. IsAuthenticated is derived from the access token
at the moment of asking, never cached, so an expired token can never present
as a live session. Set Config.OnChange to observe every transition.

# Token renewal

With Config.AutoRefresh a timer renews the access token Config.RefreshBefore
ahead of expiry. Independently, any authenticated request that comes back 401
joins a single shared renewal and is retried exactly once. A renewal that
fails clears the session and fires Config.OnSessionExpired at most once.

# Persistence

Sessions persist through a keystore.Store: in-memory (default), an encrypted
file, or SQLite. Writes hit the store before in-memory state, so a crash
between the two re-adopts the newer session on the next Bootstrap.
*/
package authkit
