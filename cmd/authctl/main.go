// authctl is the provisioning tool: it manages user records directly in the
// credential store, bypassing the HTTP tier. Creating the first admin, fixing
// a locked account, and force-revoking sessions all happen here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

func main() {
	_ = godotenv.Load()

	// ---- create ----
	createCmd := flag.NewFlagSet("create", flag.ExitOnError)
	createUser := createCmd.String("user", "", "username")
	createPass := createCmd.String("pass", "", "initial password")
	createRole := createCmd.String("role", "admin", "role (admin or editor)")
	createMongo := mongoFlags(createCmd)

	// ---- set-password ----
	setCmd := flag.NewFlagSet("set-password", flag.ExitOnError)
	setUser := setCmd.String("user", "", "username")
	setPass := setCmd.String("pass", "", "new password")
	setMongo := mongoFlags(setCmd)

	// ---- activate / deactivate ----
	actCmd := flag.NewFlagSet("activate", flag.ExitOnError)
	actUser := actCmd.String("user", "", "username")
	actMongo := mongoFlags(actCmd)

	deactCmd := flag.NewFlagSet("deactivate", flag.ExitOnError)
	deactUser := deactCmd.String("user", "", "username")
	deactMongo := mongoFlags(deactCmd)

	// ---- unlock ----
	unlockCmd := flag.NewFlagSet("unlock", flag.ExitOnError)
	unlockUser := unlockCmd.String("user", "", "username")
	unlockMongo := mongoFlags(unlockCmd)

	// ---- revoke ----
	revokeCmd := flag.NewFlagSet("revoke", flag.ExitOnError)
	revokeUser := revokeCmd.String("user", "", "username")
	revokeMongo := mongoFlags(revokeCmd)

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listMongo := mongoFlags(listCmd)

	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "create":
		_ = createCmd.Parse(os.Args[2:])
		store := openStore(ctx, createMongo)
		defer store.Close(ctx)
		dieIf(cmdCreate(ctx, store, *createUser, *createPass, *createRole))

	case "set-password":
		_ = setCmd.Parse(os.Args[2:])
		store := openStore(ctx, setMongo)
		defer store.Close(ctx)
		dieIf(cmdSetPassword(ctx, store, *setUser, *setPass))

	case "activate":
		_ = actCmd.Parse(os.Args[2:])
		store := openStore(ctx, actMongo)
		defer store.Close(ctx)
		dieIf(cmdSetActive(ctx, store, *actUser, true))

	case "deactivate":
		_ = deactCmd.Parse(os.Args[2:])
		store := openStore(ctx, deactMongo)
		defer store.Close(ctx)
		dieIf(cmdSetActive(ctx, store, *deactUser, false))

	case "unlock":
		_ = unlockCmd.Parse(os.Args[2:])
		store := openStore(ctx, unlockMongo)
		defer store.Close(ctx)
		dieIf(cmdUnlock(ctx, store, *unlockUser))

	case "revoke":
		_ = revokeCmd.Parse(os.Args[2:])
		store := openStore(ctx, revokeMongo)
		defer store.Close(ctx)
		dieIf(cmdRevoke(ctx, store, *revokeUser))

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		store := openStore(ctx, listMongo)
		defer store.Close(ctx)
		dieIf(cmdList(ctx, store))

	default:
		usage()
		os.Exit(2)
	}
}

type mongoOpts struct {
	uri  *string
	db   *string
	coll *string
}

func mongoFlags(fs *flag.FlagSet) mongoOpts {
	return mongoOpts{
		uri:  fs.String("mongo", "", "MongoDB URI (defaults to MONGO_URI)"),
		db:   fs.String("db", "phoenix", "Mongo database name"),
		coll: fs.String("coll", "users", "Mongo collection name"),
	}
}

func openStore(ctx context.Context, o mongoOpts) *auth.MongoUserStore {
	uri := *o.uri
	if uri == "" {
		uri = os.Getenv("MONGO_URI")
	}
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	store, err := auth.NewMongoUserStore(ctx, uri, *o.db, *o.coll, auth.DefaultArgon)
	dieIf(err)
	return store
}

func cmdCreate(ctx context.Context, store *auth.MongoUserStore, username, password, role string) error {
	if username == "" || password == "" {
		return fmt.Errorf("create requires --user and --pass")
	}
	if err := auth.DefaultPasswordPolicy.Validate(password); err != nil {
		return err
	}
	u := &auth.User{
		Username:    username,
		NewPassword: password,
		Role:        auth.Role(role),
		Active:      true,
	}
	if err := store.Create(ctx, u); err != nil {
		return err
	}
	fmt.Printf("created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
	return nil
}

func cmdSetPassword(ctx context.Context, store *auth.MongoUserStore, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("set-password requires --user and --pass")
	}
	if err := auth.DefaultPasswordPolicy.Validate(password); err != nil {
		return err
	}
	u, err := store.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	u.NewPassword = password
	u.PasswordChangedAt = time.Now()
	u.TokenVersion++ // all outstanding refresh tokens die with the old password
	if err := store.Save(ctx, u); err != nil {
		return err
	}
	fmt.Printf("password updated for %s; sessions revoked\n", u.Username)
	return nil
}

func cmdSetActive(ctx context.Context, store *auth.MongoUserStore, username string, active bool) error {
	if username == "" {
		return fmt.Errorf("--user required")
	}
	u, err := store.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	u.Active = active
	if !active {
		u.TokenVersion++
	}
	if err := store.Save(ctx, u); err != nil {
		return err
	}
	if active {
		fmt.Printf("%s activated\n", u.Username)
	} else {
		fmt.Printf("%s deactivated; sessions revoked\n", u.Username)
	}
	return nil
}

func cmdUnlock(ctx context.Context, store *auth.MongoUserStore, username string) error {
	if username == "" {
		return fmt.Errorf("--user required")
	}
	u, err := store.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	if err := store.Save(ctx, u); err != nil {
		return err
	}
	fmt.Printf("%s unlocked\n", u.Username)
	return nil
}

func cmdRevoke(ctx context.Context, store *auth.MongoUserStore, username string) error {
	if username == "" {
		return fmt.Errorf("--user required")
	}
	u, err := store.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	u.TokenVersion++
	if err := store.Save(ctx, u); err != nil {
		return err
	}
	fmt.Printf("sessions revoked for %s (token version %d)\n", u.Username, u.TokenVersion)
	return nil
}

func cmdList(ctx context.Context, store *auth.MongoUserStore) error {
	users, err := store.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, u := range users {
		status := "active"
		if !u.Active {
			status = "inactive"
		}
		if u.Locked(now) {
			status += ", locked"
		}
		fmt.Printf("%-20s %-7s v%-3d %s\n", u.Username, u.Role, u.TokenVersion, status)
	}
	return nil
}

func usage() {
	fmt.Print(`authctl commands:

  create       --user alice --pass <password> [--role admin|editor] [--mongo URI --db phoenix --coll users]
  set-password --user alice --pass <password> [--mongo URI --db phoenix --coll users]
  activate     --user alice [--mongo URI --db phoenix --coll users]
  deactivate   --user alice [--mongo URI --db phoenix --coll users]
  unlock       --user alice [--mongo URI --db phoenix --coll users]
  revoke       --user alice [--mongo URI --db phoenix --coll users]
  list         [--mongo URI --db phoenix --coll users]

Connection falls back to the MONGO_URI environment variable (a .env file is
read if present), then to mongodb://localhost:27017.
`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
