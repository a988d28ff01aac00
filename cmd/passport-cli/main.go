// Command passport-cli authenticates against an AeThex Passport server from
// the terminal, caching tokens locally so repeated invocations don't
// re-launch the auth flow.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aethex-foundation/passport-go"
	"github.com/aethex-foundation/passport-go/keystore"
	"golang.org/x/net/context"
	"golang.org/x/term"
)

type subCommand struct {
	Flags       *flag.FlagSet
	Description string
}

type baseOpts struct {
	Server    string
	ClientID  string
	StorePath string
	StoreKey  string
	Listen    string
}

func main() {
	ctx := context.Background()

	baseFlags := baseOpts{
		Server: passport.DefaultServer,
		Listen: "127.0.0.1:8910",
	}
	baseFs := flag.NewFlagSet("passport-cli", flag.ExitOnError)
	baseFs.StringVar(&baseFlags.Server, "server", baseFlags.Server, "Passport server base URL")
	baseFs.StringVar(&baseFlags.ClientID, "client-id", baseFlags.ClientID, "Passport Client ID (required)")
	baseFs.StringVar(&baseFlags.StorePath, "store", baseFlags.StorePath, "Path to the credential store file. Defaults to a file under the user config dir.")
	baseFs.StringVar(&baseFlags.StoreKey, "store-key", baseFlags.StoreKey, "Hex-encoded 32-byte key. When set, the credential store is encrypted at rest.")
	baseFs.StringVar(&baseFlags.Listen, "listen", baseFlags.Listen, "Address to bind the login callback listener on. Must match the redirect URI registered for the client.")

	var subcommands []*subCommand

	loginFs := flag.NewFlagSet("login", flag.ExitOnError)
	subcommands = append(subcommands, &subCommand{
		Flags:       loginFs,
		Description: "Run the browser auth flow and cache the resulting tokens",
	})

	tokenFs := flag.NewFlagSet("token", flag.ExitOnError)
	subcommands = append(subcommands, &subCommand{
		Flags:       tokenFs,
		Description: "Output a current access token, refreshing if needed",
	})

	userinfoFs := flag.NewFlagSet("userinfo", flag.ExitOnError)
	subcommands = append(subcommands, &subCommand{
		Flags:       userinfoFs,
		Description: "Output the authenticated identity as JSON",
	})

	logoutFs := flag.NewFlagSet("logout", flag.ExitOnError)
	subcommands = append(subcommands, &subCommand{
		Flags:       logoutFs,
		Description: "Clear cached tokens and print the server logout URL",
	})

	if err := baseFs.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed parsing args: %v", err)
		os.Exit(1)
	}

	if len(baseFs.Args()) < 1 {
		fmt.Print("error: subcommand required\n\n")
		printFullUsage(baseFs, subcommands)
		os.Exit(1)
	}

	var missingFlags []string
	if baseFlags.ClientID == "" {
		missingFlags = append(missingFlags, "client-id")
	}
	if len(missingFlags) > 0 {
		fmt.Printf("error: %s are required flags\n\n", strings.Join(missingFlags, ", "))
		printFullUsage(baseFs, subcommands)
		os.Exit(1)
	}

	var execFn func(context.Context, *passport.Client) error

	switch baseFs.Arg(0) {
	case "login":
		execFn = func(ctx context.Context, client *passport.Client) error {
			return login(ctx, client, baseFlags.Listen)
		}
	case "token":
		execFn = token
	case "userinfo":
		execFn = userinfo
	case "logout":
		execFn = logout
	default:
		fmt.Printf("error: invalid subcommand %s\n\n", baseFs.Arg(0))
		printFullUsage(baseFs, subcommands)
		os.Exit(1)
	}

	store, err := buildStore(baseFlags)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	client, err := passport.New(passport.Config{
		ClientID:    baseFlags.ClientID,
		RedirectURI: fmt.Sprintf("http://%s/callback", baseFlags.Listen),
		Server:      baseFlags.Server,
		Store:       store,
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	if err := execFn(ctx, client); err != nil {
		fmt.Printf("error: %+v\n", err)
		os.Exit(1)
	}
}

func printFullUsage(baseFs *flag.FlagSet, subcommands []*subCommand) {
	fmt.Printf("Usage: %s <base flags> <subcommand> <subcommand flags>\n", os.Args[0])
	fmt.Print("\n")
	fmt.Print("Base Flags:\n")
	fmt.Print("\n")
	baseFs.PrintDefaults()
	fmt.Print("\n")
	fmt.Print("Subcommands:\n")
	fmt.Print("\n")
	for _, sc := range subcommands {
		fmt.Printf("%s\n", sc.Flags.Name())
		fmt.Print("\n")
		fmt.Printf("  %s\n", sc.Description)
		fmt.Print("\n")
		sc.Flags.PrintDefaults()
		fmt.Print("\n")
	}
}

func buildStore(opts baseOpts) (keystore.Store, error) {
	path := opts.StorePath
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("finding user config dir: %w", err)
		}
		dir := filepath.Join(cfgDir, "aethex-passport")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		path = filepath.Join(dir, "credentials.json")
	}

	if opts.StoreKey == "" {
		return keystore.NewJSONFile(path)
	}

	kb, err := hex.DecodeString(opts.StoreKey)
	if err != nil || len(kb) != 32 {
		return nil, fmt.Errorf("store-key must be 64 hex characters")
	}
	var key [32]byte
	copy(key[:], kb)
	return keystore.NewEncryptedFile(path, key)
}

func login(ctx context.Context, client *passport.Client, listen string) error {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("binding %s: %w", listen, err)
	}
	defer l.Close()

	authURL, err := client.Login(ctx, "")
	if err != nil {
		return fmt.Errorf("starting login flow: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Open the following URL in your browser:\n\n  %s\n\n", authURL)

	type callbackResult struct {
		user *passport.User
		err  error
	}
	resultChan := make(chan callbackResult, 1)

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, err := client.HandleCallback(r.Context(), r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprint(w, "Logged in. You can close this window.")
		}
		resultChan <- callbackResult{user: user, err: err}
	})}
	go func() { _ = server.Serve(l) }()

	var res callbackResult
	select {
	case res = <-resultChan:
	case <-time.After(5 * time.Minute):
		res.err = fmt.Errorf("timed out waiting for callback")
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = server.Shutdown(sctx)

	if res.err != nil {
		return res.err
	}
	if res.user != nil {
		fmt.Fprintf(os.Stderr, "Logged in as %s\n", res.user.Username)
	} else {
		fmt.Fprint(os.Stderr, "Logged in\n")
	}
	return nil
}

func token(ctx context.Context, client *passport.Client) error {
	at, err := client.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}
	if at == "" {
		return fmt.Errorf("no session, run login first")
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Access token: %s\n", at)
	} else {
		// raw output for piping into other tools
		fmt.Print(at)
	}
	return nil
}

func userinfo(ctx context.Context, client *passport.Client) error {
	user, err := client.Userinfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching userinfo: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no session, run login first")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(user)
}

func logout(ctx context.Context, client *passport.Client) error {
	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Logged out locally. To end the server session, open:\n\n  %s\n", client.LogoutURL(""))
	return nil
}
