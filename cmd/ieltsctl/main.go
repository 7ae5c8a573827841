// Command ieltsctl runs operator tasks against the IELTS admin database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"ieltsadmin/internal/app"
	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/content"
	"ieltsadmin/internal/db"
	"ieltsadmin/internal/exam"
	"ieltsadmin/internal/notify"
	"ieltsadmin/internal/roster"
	"ieltsadmin/internal/settings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	readPasswordFunc = term.ReadPassword

	errHelp = errors.New("help provided")
)

type commandLine struct {
	cfg    app.Config
	log    *logrus.Logger
	out    io.Writer
	openDB func(ctx context.Context) (*sql.DB, error)
}

func main() {
	cfg := app.LoadConfig()
	cli := &commandLine{
		cfg: cfg,
		log: app.NewLogger(cfg, os.Stderr),
		out: os.Stdout,
		openDB: func(ctx context.Context) (*sql.DB, error) {
			return db.OpenPostgresWithConfig(ctx, cfg.DBDSN, cfg.Postgres())
		},
	}
	if err := cli.run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                                  apply the embedded schema")
	fmt.Fprintln(cli.out, "  create-admin -username U -email E [-name N]  create an admin (password prompted)")
	fmt.Fprintln(cli.out, "  tracks [-module listening|reading|writing] [-q text]")
	fmt.Fprintln(cli.out, "  exams [-q text]")
	fmt.Fprintln(cli.out, "  import-students -file roster.csv|roster.xlsx")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		return cli.withDB(ctx, func(conn *sql.DB) error {
			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}
			cli.ok("schema is up to date")
			return nil
		})

	case "create-admin":
		fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		username := fs.String("username", "", "login name")
		email := fs.String("email", "", "email address")
		name := fs.String("name", "", "full name, defaults to the username")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *username == "" || *email == "" {
			fs.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			fs.Usage()
			return errHelp
		}
		fullName := strings.TrimSpace(*name)
		if fullName == "" {
			fullName = *username
		}
		return cli.withDB(ctx, func(conn *sql.DB) error {
			svc := auth.NewService(conn, auth.ServiceConfig{Audit: audit.NewRecorder(conn, cli.log)})
			u, err := svc.CreateStaff(ctx, 0, auth.CreateStaffInput{
				Username: *username,
				Email:    *email,
				Password: string(pwd),
				FullName: fullName,
				Role:     auth.RoleAdmin,
			})
			if err != nil {
				return err
			}
			cli.ok(fmt.Sprintf("admin %s created (id %d)", u.Username, u.ID))
			return nil
		})

	case "tracks":
		fs := flag.NewFlagSet("tracks", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		module := fs.String("module", "", "filter by module")
		q := fs.String("q", "", "search title")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *module != "" && !content.IsModule(strings.ToLower(*module)) {
			return fmt.Errorf("unknown module %q", *module)
		}
		return cli.withDB(ctx, func(conn *sql.DB) error {
			items, err := content.NewService(conn, nil, nil).ListTracks(ctx, content.TrackFilter{Module: *module, Q: *q})
			if err != nil {
				return err
			}
			renderTracks(cli.out, items)
			return nil
		})

	case "exams":
		fs := flag.NewFlagSet("exams", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		q := fs.String("q", "", "search title")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.withDB(ctx, func(conn *sql.DB) error {
			items, err := exam.NewService(conn, nil, nil).ListExams(ctx, exam.ExamFilter{Q: *q})
			if err != nil {
				return err
			}
			renderExams(cli.out, items)
			return nil
		})

	case "import-students":
		fs := flag.NewFlagSet("import-students", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		file := fs.String("file", "", "roster file (.csv or .xlsx)")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *file == "" {
			fs.Usage()
			return errHelp
		}
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open roster: %w", err)
		}
		defer f.Close()
		return cli.withDB(ctx, func(conn *sql.DB) error {
			rec := audit.NewRecorder(conn, cli.log)
			svc := roster.NewService(conn, roster.Config{
				Audit:  rec,
				Mailer: notify.NewSMTPMailer(cli.cfg.SMTP()),
				Site:   settings.NewService(conn, rec, cli.log),
				Log:    cli.log,
			})
			report, err := svc.Import(ctx, 0, filepath.Base(*file), f)
			if err != nil {
				return err
			}
			renderImport(cli.out, report)
			return nil
		})

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) withDB(ctx context.Context, fn func(conn *sql.DB) error) error {
	conn, err := cli.openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

func (cli *commandLine) ok(msg string) {
	color.New(color.FgGreen).Fprintln(cli.out, msg)
}
