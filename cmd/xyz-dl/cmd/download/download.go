package download

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiquda/xyz-dl/internal/api"
	"github.com/shiquda/xyz-dl/internal/app"
	"github.com/shiquda/xyz-dl/internal/auth"
	"github.com/shiquda/xyz-dl/internal/config"
	"github.com/shiquda/xyz-dl/internal/downloader"
	"github.com/shiquda/xyz-dl/internal/logger"
)

var (
	configDir  string
	outputDir  string
	limit      int
	saveOnly   bool
	parallel   int
	noProgress bool
	fromJSON   string
)

func init() {
	Cmd.Flags().StringVarP(&configDir, "config-dir", "c", ".", "directory holding credentials and config")
	Cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory to save downloads (default from config)")
	Cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of episodes, newest first (0 = all)")
	Cmd.Flags().BoolVar(&saveOnly, "save-only", false, "record the catalog without downloading audio")
	Cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "concurrent downloads (default from config)")
	Cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	Cmd.Flags().StringVar(&fromJSON, "from-json", "", "download from a saved catalog dump (data/<pid>.json) instead of the platform")
}

// Cmd represents the download command
var Cmd = &cobra.Command{
	Use:   "download <podcast URL | episode URL | podcast ID>",
	Short: "Download all episodes of a podcast, or a single episode",
	Long: `Download episodes from Xiaoyuzhou FM.
The target may be a podcast page URL, an episode page URL, or a bare
podcast ID. Episodes are saved oldest first as "001. Title.m4a" under a
directory named after the podcast. Already downloaded files are skipped
and interrupted transfers resume. With --from-json the episode list comes
from a previously saved catalog dump and no target is needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if fromJSON == "" && len(args) == 0 {
			return errors.New("provide a podcast/episode target or --from-json")
		}
		var target string
		if len(args) > 0 {
			target = args[0]
		}

		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		log := logger.MustNew(verbose)
		defer log.Sync()

		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			catalog app.Catalog
			tokens  api.TokenSource
		)
		store := auth.NewFileStore(cfg.CredentialsPath())
		session, err := auth.NewSessionManager(store, cfg, log)
		switch {
		case err == nil:
			tokens = session
			catalog = api.NewClient(session, cfg, log)
		case errors.Is(err, auth.ErrNoCredentials):
			if fromJSON == "" {
				fmt.Fprintln(os.Stderr, "Not logged in; only single public episodes can be downloaded. Run `xyz-dl login` for full access.")
			}
		default:
			return err
		}

		engine := downloader.NewEngine(tokens, cfg, log)
		web := api.NewWebResolver(cfg, log)
		a := app.New(catalog, web, engine, cfg, log)

		renderer := newProgressRenderer(os.Stderr, !noProgress && !saveOnly)
		sum, err := a.Run(ctx, app.Params{
			Target:     target,
			FromJSON:   fromJSON,
			OutputDir:  outputDir,
			Limit:      limit,
			SaveOnly:   saveOnly,
			Parallel:   parallel,
			OnProgress: renderer.observe,
		})
		renderer.shutdown()
		if err != nil {
			return err
		}

		printSummary(sum)
		if !sum.Clean() {
			return fmt.Errorf("%d of %d episodes failed", sum.Failed, sum.Total)
		}
		return nil
	},
}

func printSummary(sum app.Summary) {
	fmt.Printf("\n%s: %d episodes, %d completed, %d skipped, %d failed\n",
		sum.Podcast, sum.Total, sum.Completed, sum.Skipped, sum.Failed)
	fmt.Printf("Saved to %s\n", sum.OutputDir)

	if sum.Placeholders > 0 {
		fmt.Printf("Note: %d file(s) look like previews, not full episodes. Your account may not be entitled to them.\n",
			sum.Placeholders)
	}
	for _, task := range sum.Tasks {
		if task.State == downloader.StateFailed && task.Err != nil {
			fmt.Printf("  failed: %s\n", task.Err)
		}
	}
}
