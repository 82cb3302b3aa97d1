package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"golang.org/x/term"

	"github.com/goliatone/go-entree"
	"github.com/goliatone/go-entree/config"
)

// ErrUsage is returned for unknown commands and bad flags
var ErrUsage = errors.New("usage: entree-admin [-dsn DSN] identity|site|property <command> [flags]", errors.CategoryBadInput)

type adminConfig struct {
	DSN string `env:"DSN" envDefault:"file:entree.db?cache=shared"`
}

type admin struct {
	repo   entree.RepositoryManager
	in     *bufio.Reader
	stdin  io.Reader
	out    io.Writer
	logger entree.Logger
}

type command func(ctx context.Context, a *admin, args []string) error

var commands = map[string]map[string]command{
	"identity": {
		"create": createIdentity,
	},
	"site": {
		"add":     addSite,
		"list":    listSites,
		"default": defaultSite,
	},
	"property": {
		"add":    addProperty,
		"delete": deleteProperty,
	},
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var cfg adminConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: config.Prefix}); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "failed to parse environment")
	}

	fset := flag.NewFlagSet("entree-admin", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	dsn := fset.String("dsn", cfg.DSN, "database DSN")
	if err := fset.Parse(args); err != nil {
		return ErrUsage
	}

	rest := fset.Args()
	if len(rest) < 2 {
		return ErrUsage
	}

	cmd, ok := commands[rest[0]][rest[1]]
	if !ok {
		return ErrUsage
	}

	db, err := entree.OpenDB(ctx, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := entree.Migrate(ctx, db.DB); err != nil {
		return err
	}

	a := &admin{
		repo:   entree.NewRepositoryManager(db),
		in:     bufio.NewReader(stdin),
		stdin:  stdin,
		out:    stdout,
		logger: entree.NopLogger{},
	}
	return cmd(ctx, a, rest[2:])
}

func (a *admin) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *admin) prompt(label string) (string, error) {
	a.printf("%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, errors.CategoryBadInput, "failed to read "+strings.ToLower(label))
	}
	return strings.TrimSpace(line), nil
}

// promptPassword hides the input when stdin is a terminal
func (a *admin) promptPassword(label string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.printf("%s: ", label)
		raw, err := term.ReadPassword(int(f.Fd()))
		a.printf("\n")
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryBadInput, "failed to read password")
		}
		return string(raw), nil
	}
	return a.prompt(label)
}

func createIdentity(ctx context.Context, a *admin, args []string) error {
	fset := flag.NewFlagSet("identity create", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	email := fset.String("email", "", "email address")
	noinput := fset.Bool("noinput", false, "do not prompt, the password is left unusable")
	active := fset.Bool("active", true, "create an active and verified identity")
	useHashid := fset.Bool("hashid", false, "derive the identity id from the email")
	if err := fset.Parse(args); err != nil {
		return ErrUsage
	}

	msg := entree.CreateIdentityMessage{
		Email:     *email,
		Active:    *active,
		UseHashid: *useHashid,
		OnResponse: func(identity *entree.Identity) {
			a.printf("identity %s created for %s\n", identity.ID, identity.Email)
		},
	}

	if !*noinput {
		var err error
		if msg.Email == "" {
			if msg.Email, err = a.prompt("Email"); err != nil {
				return err
			}
		}
		if msg.Password, err = a.readNewPassword(); err != nil {
			return err
		}
	}

	return entree.NewCreateIdentityHandler(a.repo).
		WithLogger(a.logger).
		Execute(ctx, msg)
}

func (a *admin) readNewPassword() (string, error) {
	password, err := a.promptPassword("Password")
	if err != nil {
		return "", err
	}
	confirm, err := a.promptPassword("Password (again)")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", entree.ErrPasswordMismatch
	}
	if password == "" {
		return "", errors.New("blank passwords are not allowed", errors.CategoryValidation)
	}
	return password, nil
}

func addSite(ctx context.Context, a *admin, args []string) error {
	fset := flag.NewFlagSet("site add", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	title := fset.String("title", "", "site title")
	url := fset.String("url", "", "site url")
	secret := fset.String("secret", "", "shared secret, generated when empty")
	isDefault := fset.Bool("default", false, "make it the default site")
	inactive := fset.Bool("inactive", false, "create the site disabled")
	if err := fset.Parse(args); err != nil {
		return ErrUsage
	}

	return entree.NewCreateSiteHandler(a.repo).
		WithLogger(a.logger).
		Execute(ctx, entree.CreateSiteMessage{
			Title:   *title,
			URL:     *url,
			Secret:  *secret,
			Active:  !*inactive,
			Default: *isDefault,
			OnResponse: func(site *entree.EntreeSite) {
				a.printf("site %d created\n", site.ID)
				a.printf("%s\n", print.MaybePrettyJSON(map[string]any{
					"ENTREE_CLIENT_SITE_ID":    site.ID,
					"ENTREE_CLIENT_SECRET_KEY": site.Secret,
				}))
			},
		})
}

func listSites(ctx context.Context, a *admin, _ []string) error {
	sites, err := a.repo.Sites().List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tURL\tACTIVE\tDEFAULT")
	for _, site := range sites {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\n", site.ID, site.Title, site.URL, site.IsActive, site.IsDefault)
	}
	return w.Flush()
}

func defaultSite(ctx context.Context, a *admin, args []string) error {
	fset := flag.NewFlagSet("site default", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	id := fset.Int64("id", 0, "site id")
	if err := fset.Parse(args); err != nil || *id <= 0 {
		return ErrUsage
	}

	if err := entree.NewSetDefaultSiteHandler(a.repo).Execute(ctx, entree.SetDefaultSiteMessage{SiteID: *id}); err != nil {
		return err
	}
	a.printf("site %d is the default site\n", *id)
	return nil
}

func addProperty(ctx context.Context, a *admin, args []string) error {
	fset := flag.NewFlagSet("property add", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	site := fset.Int64("site", entree.ResidentSite, "site id, 0 for a resident property")
	name := fset.String("name", "", "property name")
	slug := fset.String("slug", "", "property slug")
	valueType := fset.String("type", entree.PropertyString, "string, integer or boolean")
	required := fset.Bool("required", false, "the property must be filled")
	unique := fset.Bool("unique", false, "values must be unique across identities")
	if err := fset.Parse(args); err != nil {
		return ErrUsage
	}

	profiles := entree.NewProfileRegistry(a.repo, 0).WithLogger(a.logger)
	return entree.NewCreatePropertyHandler(profiles).Execute(ctx, entree.CreatePropertyMessage{
		SiteID:    *site,
		Name:      *name,
		Slug:      *slug,
		ValueType: *valueType,
		Required:  *required,
		Unique:    *unique,
		OnResponse: func(prop *entree.SiteProperty) {
			a.printf("property %s added to site %d\n", prop.Slug, prop.SiteID)
		},
	})
}

func deleteProperty(ctx context.Context, a *admin, args []string) error {
	fset := flag.NewFlagSet("property delete", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	site := fset.Int64("site", entree.ResidentSite, "site id, 0 for a resident property")
	slug := fset.String("slug", "", "property slug")
	if err := fset.Parse(args); err != nil || *slug == "" {
		return ErrUsage
	}

	profiles := entree.NewProfileRegistry(a.repo, 0).WithLogger(a.logger)
	if err := entree.NewDeletePropertyHandler(profiles).Execute(ctx, entree.DeletePropertyMessage{
		SiteID: *site,
		Slug:   *slug,
	}); err != nil {
		return err
	}
	a.printf("property %s deleted from site %d\n", *slug, *site)
	return nil
}
