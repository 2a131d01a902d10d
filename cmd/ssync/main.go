package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/internal/sync"
	"github.com/chmdznr/surat-sync/pkg/models"
	"github.com/chmdznr/surat-sync/pkg/utils"
	"github.com/chmdznr/surat-sync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	projectFlag := &cli.StringFlag{
		Name:     "project",
		Usage:    "Project name",
		Required: true,
	}

	app := &cli.App{
		Name:                 "ssync",
		Usage:                "Letter tracking synchronization engine",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a new sync project",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Project name", Required: true},
					&cli.StringFlag{Name: "local-dir", Usage: "Local file storage directory", Required: true},
					&cli.StringFlag{Name: "endpoint", Usage: "MinIO endpoint", Required: true},
					&cli.StringFlag{Name: "bucket", Usage: "MinIO bucket name", Required: true},
					&cli.StringFlag{Name: "folder", Usage: "Destination folder path"},
					&cli.StringFlag{Name: "access-key", Usage: "MinIO access key", Required: true},
					&cli.StringFlag{Name: "secret-key", Usage: "MinIO secret key", Required: true},
					&cli.StringFlag{Name: "workbook", Usage: "Path to the mirror workbook", Required: true},
					&cli.StringFlag{Name: "sheet", Usage: "Mirror sheet name", Value: "Letters"},
				},
				Action: createProject,
			},
			{
				Name:  "run",
				Usage: "Run the background sync scheduler until interrupted",
				Flags: []cli.Flag{
					projectFlag,
					&cli.DurationFlag{Name: "interval", Usage: "Tick interval", Value: 30 * time.Second},
					&cli.IntFlag{Name: "batch", Usage: "Batch size per pass", Value: 100},
				},
				Action: runScheduler,
			},
			{
				Name:  "trigger",
				Usage: "Run exactly one reconciliation pass",
				Flags: []cli.Flag{
					projectFlag,
					&cli.IntFlag{Name: "batch", Usage: "Batch size", Value: 100},
				},
				Action: triggerOnce,
			},
			{
				Name:  "mirror",
				Usage: "Run a full-table mirror pass",
				Flags: []cli.Flag{
					projectFlag,
					&cli.StringFlag{
						Name:     "direction",
						Usage:    "to_sheets (export local) or from_sheets (import remote)",
						Required: true,
					},
				},
				Action: runMirror,
			},
			{
				Name:  "migrate",
				Usage: "Migrate local file copies to remote storage",
				Flags: []cli.Flag{
					projectFlag,
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of files to migrate", Value: 100},
				},
				Action: migrateFiles,
			},
			{
				Name:   "status",
				Usage:  "Show change queue depth and file location stats",
				Flags:  []cli.Flag{projectFlag},
				Action: showStatus,
			},
			{
				Name:  "runs",
				Usage: "Show sync run history",
				Flags: []cli.Flag{
					projectFlag,
					&cli.IntFlag{Name: "limit", Usage: "Number of runs to show", Value: 20},
				},
				Action: showRuns,
			},
			{
				Name:  "purge",
				Usage: "Delete synced change records older than the retention age",
				Flags: []cli.Flag{
					projectFlag,
					&cli.DurationFlag{Name: "older-than", Usage: "Retention age", Value: 30 * 24 * time.Hour},
				},
				Action: purgeChanges,
			},
			{
				Name:  "letter",
				Usage: "Manage tracked letters (mutations are change-captured)",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Add a letter",
						Flags:  append([]cli.Flag{projectFlag}, letterFlags()...),
						Action: addLetter,
					},
					{
						Name:   "set",
						Usage:  "Update letter fields",
						Flags:  append([]cli.Flag{projectFlag, &cli.StringFlag{Name: "id", Required: true}}, letterFlags()...),
						Action: setLetter,
					},
					{
						Name:  "rm",
						Usage: "Delete a letter",
						Flags: []cli.Flag{
							projectFlag,
							&cli.StringFlag{Name: "id", Required: true},
						},
						Action: rmLetter,
					},
					{
						Name:   "list",
						Usage:  "List letters",
						Flags:  []cli.Flag{projectFlag},
						Action: listLetters,
					},
				},
			},
			{
				Name:  "file",
				Usage: "Manage tracked files",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Register a local file for tracking and migration",
						Flags: []cli.Flag{
							projectFlag,
							&cli.StringFlag{Name: "path", Usage: "File path relative to the project local dir", Required: true},
							&cli.StringFlag{Name: "letter", Usage: "Owning letter id"},
						},
						Action: addFile,
					},
					{
						Name:  "rm",
						Usage: "Delete a tracked file's bytes and its record",
						Flags: []cli.Flag{
							projectFlag,
							&cli.StringFlag{Name: "id", Required: true},
						},
						Action: rmFile,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func letterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "kind", Usage: "letter or request"},
		&cli.StringFlag{Name: "number", Usage: "Letter number"},
		&cli.StringFlag{Name: "subject", Usage: "Subject"},
		&cli.StringFlag{Name: "sender", Usage: "Sender"},
		&cli.StringFlag{Name: "recipient", Usage: "Recipient"},
		&cli.StringFlag{Name: "status", Usage: "Workflow status"},
		&cli.StringFlag{Name: "owner", Usage: "Assigned owner"},
	}
}

func openProject(c *cli.Context, name string) (*db.DB, *models.Project, error) {
	database, err := db.New(fmt.Sprintf("%s.db", name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %v", err)
	}
	project, err := database.GetProject(name)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, project, nil
}

func buildEngine(database *db.DB, project *models.Project, batchSize int) (*sync.Scheduler, error) {
	backend, err := sync.NewWorkbookBackend(project.Mirror.WorkbookPath, project.Mirror.SheetName)
	if err != nil {
		return nil, err
	}
	deliverer := sync.NewMirrorDeliverer(database, backend)
	reconciler := sync.NewReconciler(database, deliverer, nil)
	return sync.NewScheduler(reconciler, batchSize, nil), nil
}

func createProject(c *cli.Context) error {
	projectName := c.String("name")

	database, err := db.New(fmt.Sprintf("%s.db", projectName))
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer database.Close()

	project := &models.Project{
		Name:     projectName,
		LocalDir: c.String("local-dir"),
	}
	project.Destination.Endpoint = c.String("endpoint")
	project.Destination.Bucket = c.String("bucket")
	project.Destination.Folder = c.String("folder")
	project.Destination.AccessKey = c.String("access-key")
	project.Destination.SecretKey = c.String("secret-key")
	project.Mirror.WorkbookPath = c.String("workbook")
	project.Mirror.SheetName = c.String("sheet")

	if err := database.CreateProject(project); err != nil {
		return fmt.Errorf("failed to create project: %v", err)
	}

	fmt.Printf("Project '%s' created successfully\n", projectName)
	return nil
}

func runScheduler(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	scheduler, err := buildEngine(database, project, c.Int("batch"))
	if err != nil {
		return err
	}

	scheduler.Start(c.Duration("interval"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	scheduler.Stop()
	return nil
}

func triggerOnce(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	scheduler, err := buildEngine(database, project, c.Int("batch"))
	if err != nil {
		return err
	}

	result, err := scheduler.TriggerOnce(context.Background(), 0)
	if err != nil {
		return fmt.Errorf("reconciliation pass failed: %v", err)
	}

	fmt.Printf("Processed: %d\nSynced: %d\nFailed: %d\nSkipped: %d\n",
		result.Processed, result.Synced, result.Failed, result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}

func runMirror(c *cli.Context) error {
	direction, err := sync.ParseDirection(c.String("direction"))
	if err != nil {
		return err
	}

	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	backend, err := sync.NewWorkbookBackend(project.Mirror.WorkbookPath, project.Mirror.SheetName)
	if err != nil {
		return err
	}

	mirror := sync.NewMirror(database, backend, nil)
	rows, err := mirror.Run(context.Background(), direction)
	if err != nil {
		return fmt.Errorf("mirror %s failed: %v", direction, err)
	}

	fmt.Printf("Mirror %s completed: %d rows\n", direction, rows)
	return nil
}

func migrateFiles(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := sync.NewMinioStore(project)
	if err != nil {
		return err
	}

	pending, err := database.GetMigratableFiles(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No files pending migration")
		return nil
	}

	bar := pb.New(len(pending))
	bar.Start()

	syncer := sync.NewFileSyncer(database, store, project.LocalDir, nil)
	syncer.OnFile = func(f models.TrackedFile, err error) {
		bar.Increment()
	}

	migrated, err := syncer.MigratePending(context.Background(), c.Int("limit"))
	bar.Finish()
	if err != nil {
		return fmt.Errorf("migration failed: %v", err)
	}

	fmt.Printf("Migrated %d/%d files\n", migrated, len(pending))
	return nil
}

func showStatus(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Project: %s\n", project.Name)
	fmt.Printf("Mirror: %s (%s)\n", project.Mirror.WorkbookPath, project.Mirror.SheetName)
	fmt.Printf("Destination: %s/%s/\n", project.Destination.Endpoint, project.Destination.Bucket)
	fmt.Printf("Change queue: %d pending, %d processing, %d synced, %d failed, %d skipped\n",
		stats.PendingChanges, stats.ProcessingChanges, stats.SyncedChanges,
		stats.FailedChanges, stats.SkippedChanges)
	fmt.Printf("Files local: %d (%s)\n", stats.LocalFiles, utils.FormatSize(stats.LocalSize))
	fmt.Printf("Files remote: %d (%s)\n", stats.RemoteFiles, utils.FormatSize(stats.RemoteSize))
	fmt.Printf("Files failed: %d\n", stats.FailedFiles)
	return nil
}

func showRuns(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}

	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt))
		}
		line := fmt.Sprintf("%s  %-6s  %-11s  rows=%-5d  %s",
			run.StartedAt.Format(time.RFC3339), run.Direction, run.Status, run.RowsAffected, duration)
		if run.Error != "" {
			line += "  error: " + run.Error
		}
		fmt.Println(line)
	}
	return nil
}

func purgeChanges(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	count, err := database.PurgeSynced(c.Duration("older-than"))
	if err != nil {
		return fmt.Errorf("purge failed: %v", err)
	}

	fmt.Printf("Purged %d synced change records\n", count)
	return nil
}

func addLetter(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	letter := &models.Letter{
		ID:        uuid.NewString(),
		Kind:      c.String("kind"),
		Number:    c.String("number"),
		Subject:   c.String("subject"),
		Sender:    c.String("sender"),
		Recipient: c.String("recipient"),
		Status:    c.String("status"),
		Owner:     c.String("owner"),
	}

	if err := database.CreateLetter(letter); err != nil {
		return err
	}
	fmt.Printf("Letter %s created\n", letter.ID)
	return nil
}

func setLetter(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	letter, err := database.GetLetter(c.String("id"))
	if err != nil {
		return fmt.Errorf("letter not found: %v", err)
	}

	apply := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	apply("kind", &letter.Kind)
	apply("number", &letter.Number)
	apply("subject", &letter.Subject)
	apply("sender", &letter.Sender)
	apply("recipient", &letter.Recipient)
	apply("status", &letter.Status)
	apply("owner", &letter.Owner)

	if err := database.UpdateLetter(letter); err != nil {
		return err
	}
	fmt.Printf("Letter %s updated\n", letter.ID)
	return nil
}

func rmLetter(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.DeleteLetter(c.String("id")); err != nil {
		return err
	}
	fmt.Printf("Letter %s deleted\n", c.String("id"))
	return nil
}

func listLetters(c *cli.Context) error {
	database, _, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	letters, err := database.ListLetters()
	if err != nil {
		return err
	}
	for _, l := range letters {
		fmt.Printf("%s  %-7s  %-15s  %-10s  %s\n", l.ID, l.Kind, l.Number, l.Status, l.Subject)
	}
	return nil
}

func addFile(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	relPath := c.String("path")
	fullPath := relPath
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(project.LocalDir, relPath)
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("cannot stat %s: %v", fullPath, err)
	}

	file := &models.TrackedFile{
		ID:          uuid.NewString(),
		LetterID:    c.String("letter"),
		Name:        filepath.Base(fullPath),
		Size:        stat.Size(),
		StoragePath: relPath,
	}
	if err := database.CreateFile(file); err != nil {
		return err
	}

	fmt.Printf("File %s registered (%s)\n", file.ID, utils.FormatSize(file.Size))
	return nil
}

func rmFile(c *cli.Context) error {
	database, project, err := openProject(c, c.String("project"))
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := sync.NewMinioStore(project)
	if err != nil {
		return err
	}

	syncer := sync.NewFileSyncer(database, store, project.LocalDir, nil)
	if err := syncer.Remove(context.Background(), c.String("id")); err != nil {
		return fmt.Errorf("failed to remove file: %v", err)
	}

	fmt.Printf("File %s removed\n", c.String("id"))
	return nil
}
