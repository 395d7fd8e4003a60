// Command guestsync is a CLI client for the guestsync service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/gateway"
	"github.com/guestsync/guestsync/internal/integrity"
	"github.com/guestsync/guestsync/internal/ledger"
	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/rpc"
	"github.com/guestsync/guestsync/internal/saga"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "guestsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "guestsync")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// actorFromToken reads the subject claim without verifying the signature;
// the server is the one that verifies.
func actorFromToken(tok string) (u.UUID, error) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err != nil {
		return u.Nil, err
	}
	return u.FromString(claims.Subject)
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `guestsync CLI
Usage:
  guestsync -addr URL <cmd> [args]

Commands:
  version
  login      -token <jwt>                          (saves token)
  provision  -name <property name>                 (create property + setup saga)
  media      -property <uuid>                      (list media files)
  media-add  -property <uuid> -title T -type photo|video|document [-url U]
  media-edit -property <uuid> -id <uuid> [-title T] [-desc D] [-order N] [-active true|false]
  media-rm   -property <uuid> -id <uuid>
  link-edit  -property <uuid> -id <uuid> [-title T] [-slug S] [-order N] [-active true|false]
  check                                            (integrity scan)
  alerts                                           (active integrity alerts)
  cleanup    [-property <uuid>]                    (remove orphaned records)
`)
	os.Exit(2)
}

// session bundles the authenticated client-side stack for one invocation.
type session struct {
	gw    *gateway.Gateway
	actor u.UUID
}

func newSession(addr string, log *zap.Logger) (*session, error) {
	tok, err := loadToken()
	if err != nil {
		return nil, err
	}
	actor, err := actorFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("bad token subject: %w", err)
	}
	c := rpc.New(addr, tok, log)
	return &session{gw: gateway.New(c, log), actor: actor}, nil
}

// flushAndReport force-syncs the ledger and prints the resulting views and
// any sync errors.
func flushAndReport(ctx context.Context, led *ledger.Ledger) {
	led.ForceSync(ctx)

	type row struct {
		ID         string `json:"id"`
		Kind       string `json:"kind"`
		Optimistic bool   `json:"optimistic"`
	}
	rows := []row{}
	for _, v := range led.Views() {
		rows = append(rows, row{
			ID:         v.Entity.EntityID(),
			Kind:       string(v.Entity.Kind()),
			Optimistic: v.Optimistic,
		})
	}
	printJSON(rows)

	for _, se := range led.SyncErrors() {
		fmt.Fprintf(os.Stderr, "sync error on %s: %s\n", se.TargetID, se.Message)
	}
	if len(led.SyncErrors()) > 0 {
		os.Exit(1)
	}
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands over the HTTP RPC client.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("guestsync %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "access token (JWT)")
		_ = fs.Parse(flag.Args()[1:])
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		if _, err := actorFromToken(*tok); err != nil {
			fail(fmt.Errorf("token subject is not a uuid: %w", err))
		}

		// parse exp from JWT
		var claims jwt.RegisteredClaims
		_, _, _ = jwt.NewParser().ParseUnverified(*tok, &claims)
		exp := time.Now().Add(15 * time.Minute)
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		if err := saveToken(*tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "provision":
		fs := flag.NewFlagSet("provision", flag.ExitOnError)
		name := fs.String("name", "", "property name")
		_ = fs.Parse(flag.Args()[1:])
		if *name == "" {
			fmt.Fprintln(os.Stderr, "need -name")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		prop, err := s.gw.CreateProperty(ctx, *name, s.actor)
		if err != nil {
			fail(err)
		}

		// track the setup as a saga so a crashed provision is visible
		coord := saga.New(s.gw, log)
		start, err := coord.Start(ctx, "property_setup", prop.ID, s.actor,
			map[string]string{"name": *name}, 3)
		if err != nil {
			fail(err)
		}
		if start.Duplicate {
			fmt.Fprintln(os.Stderr, "setup already running for this property")
		}

		steps := []struct {
			name string
			run  func() model.MutationResult
		}{
			{"create_cover_placeholder", func() model.MutationResult {
				return s.gw.CreateMediaFile(ctx, model.MediaFile{
					PropertyID: prop.ID, Title: "Cover photo", FileType: "photo", IsActive: true,
				}, s.actor)
			}},
			{"create_default_link", func() model.MutationResult {
				return s.gw.CreateShareableLink(ctx, model.ShareableLink{
					PropertyID: prop.ID, Title: "Guest guide",
					Slug: strings.ToLower(strings.ReplaceAll(*name, " ", "-")), IsActive: true,
				}, s.actor)
			}},
			{"finalize", func() model.MutationResult {
				return model.MutationResult{Success: true}
			}},
		}
		for _, st := range steps {
			res := st.run()
			if !res.Success {
				fail(fmt.Errorf("step %s: %s", st.name, res.Error))
			}
			var rollback any
			if res.Updated != nil {
				rollback = map[string]string{"delete_id": res.Updated.EntityID()}
			}
			if _, err := coord.Advance(ctx, start.SagaID, st.name, res.Log, rollback); err != nil {
				fail(fmt.Errorf("advance %s: %w", st.name, err))
			}
		}
		printJSON(prop)

	case "media":
		fs := flag.NewFlagSet("media", flag.ExitOnError)
		propID := fs.String("property", "", "property id (uuid)")
		_ = fs.Parse(flag.Args()[1:])
		if *propID == "" {
			fmt.Fprintln(os.Stderr, "need -property")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		files, err := s.gw.ListMediaFiles(ctx, *propID)
		if err != nil {
			fail(err)
		}
		printJSON(files)

	case "media-add":
		fs := flag.NewFlagSet("media-add", flag.ExitOnError)
		propID := fs.String("property", "", "property id (uuid)")
		title := fs.String("title", "", "title")
		ftype := fs.String("type", "photo", "photo|video|document")
		url := fs.String("url", "", "file URL")
		_ = fs.Parse(flag.Args()[1:])
		if *propID == "" || *title == "" {
			fmt.Fprintln(os.Stderr, "need -property and -title")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		led := ledger.New(s.gw, s.actor, log, ledger.Config{})
		defer led.Close()

		placeholder := "tmp-" + u.Must(u.NewV7()).String()
		if _, err := led.ApplyMediaCreate(model.MediaFile{
			ID: placeholder, PropertyID: *propID,
			Title: *title, FileType: *ftype, URL: *url, IsActive: true,
		}); err != nil {
			fail(err)
		}
		flushAndReport(ctx, led)

	case "media-edit":
		fs := flag.NewFlagSet("media-edit", flag.ExitOnError)
		propID := fs.String("property", "", "property id (uuid)")
		id := fs.String("id", "", "media file id (uuid)")
		title := fs.String("title", "", "new title")
		desc := fs.String("desc", "", "new description")
		order := fs.Int("order", 0, "new display order (>=1)")
		active := fs.String("active", "", "true|false")
		_ = fs.Parse(flag.Args()[1:])
		if *propID == "" || *id == "" {
			fmt.Fprintln(os.Stderr, "need -property and -id")
			os.Exit(1)
		}

		var patch model.MediaPatch
		if *title != "" {
			patch.Title = title
		}
		if *desc != "" {
			patch.Description = desc
		}
		if *order > 0 {
			patch.DisplayOrder = order
		}
		if *active != "" {
			b := *active == "true"
			patch.IsActive = &b
		}
		if patch.IsEmpty() {
			fmt.Fprintln(os.Stderr, "nothing to change")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		files, err := s.gw.ListMediaFiles(ctx, *propID)
		if err != nil {
			fail(err)
		}

		led := ledger.New(s.gw, s.actor, log, ledger.Config{})
		defer led.Close()
		for i := range files {
			led.Load(&files[i])
		}
		if _, err := led.ApplyMediaUpdate(*id, patch); err != nil {
			fail(err)
		}
		flushAndReport(ctx, led)

	case "media-rm":
		fs := flag.NewFlagSet("media-rm", flag.ExitOnError)
		propID := fs.String("property", "", "property id (uuid)")
		id := fs.String("id", "", "media file id (uuid)")
		_ = fs.Parse(flag.Args()[1:])
		if *propID == "" || *id == "" {
			fmt.Fprintln(os.Stderr, "need -property and -id")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		files, err := s.gw.ListMediaFiles(ctx, *propID)
		if err != nil {
			fail(err)
		}

		led := ledger.New(s.gw, s.actor, log, ledger.Config{})
		defer led.Close()
		for i := range files {
			led.Load(&files[i])
		}
		if _, err := led.ApplyMediaDelete(*id); err != nil {
			fail(err)
		}
		flushAndReport(ctx, led)

	case "link-edit":
		fs := flag.NewFlagSet("link-edit", flag.ExitOnError)
		propID := fs.String("property", "", "property id (uuid)")
		id := fs.String("id", "", "link id (uuid)")
		title := fs.String("title", "", "new title")
		slug := fs.String("slug", "", "new slug")
		order := fs.Int("order", 0, "new display order (>=1)")
		active := fs.String("active", "", "true|false")
		_ = fs.Parse(flag.Args()[1:])
		if *propID == "" || *id == "" {
			fmt.Fprintln(os.Stderr, "need -property and -id")
			os.Exit(1)
		}

		var patch model.LinkPatch
		if *title != "" {
			patch.Title = title
		}
		if *slug != "" {
			patch.Slug = slug
		}
		if *order > 0 {
			patch.DisplayOrder = order
		}
		if *active != "" {
			b := *active == "true"
			patch.IsActive = &b
		}
		if patch.IsEmpty() {
			fmt.Fprintln(os.Stderr, "nothing to change")
			os.Exit(1)
		}

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		links, err := s.gw.ListShareableLinks(ctx, *propID)
		if err != nil {
			fail(err)
		}

		led := ledger.New(s.gw, s.actor, log, ledger.Config{})
		defer led.Close()
		for i := range links {
			led.Load(&links[i])
		}
		if _, err := led.ApplyLinkUpdate(*id, patch); err != nil {
			fail(err)
		}
		flushAndReport(ctx, led)

	case "check":
		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		mon := integrity.New(s.gw, log, integrity.Config{})
		status := mon.Check(ctx)
		if rep := mon.LastReport(); rep != nil {
			printJSON(rep)
		}
		fmt.Println("status:", status)
		if status == model.HealthError {
			os.Exit(1)
		}

	case "alerts":
		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		alerts, err := s.gw.ActiveAlerts(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(alerts)

	case "cleanup":
		fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
		propID := fs.String("property", "", "limit to one property (uuid)")
		_ = fs.Parse(flag.Args()[1:])

		s, err := newSession(*addr, log)
		if err != nil {
			fail(err)
		}
		res := s.gw.CleanupOrphaned(ctx, *propID, s.actor)
		if !res.Success {
			fail(errors.New(res.Error))
		}
		fmt.Printf("removed %d record(s)\n", res.AffectedRecords)

	default:
		usage()
	}
}
