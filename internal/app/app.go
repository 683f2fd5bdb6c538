// Package app orchestrates a full acquisition run: resolve the target,
// enumerate the catalog, lay out tasks, drive the download engine, and
// record the outcome.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/api"
	"github.com/shiquda/xyz-dl/internal/config"
	"github.com/shiquda/xyz-dl/internal/downloader"
	"github.com/shiquda/xyz-dl/internal/resolver"
	"github.com/shiquda/xyz-dl/internal/util/files"
)

// Catalog is the authenticated platform surface the orchestrator needs.
type Catalog interface {
	ListEpisodes(ctx context.Context, ref resolver.Ref, max int) ([]api.EpisodeRecord, error)
	GetEpisode(ctx context.Context, eid string) (api.EpisodeRecord, error)
	PodcastMeta(ctx context.Context, pid string) (api.PodcastSummary, error)
}

// EpisodeResolver fetches a single episode without credentials, from the
// public web page.
type EpisodeResolver interface {
	ResolveEpisode(ctx context.Context, eid string) (api.EpisodeRecord, error)
}

// Runner abstracts the download engine.
type Runner interface {
	Run(ctx context.Context, tasks []downloader.Task, opts downloader.Options) []downloader.Task
}

// Params describes one acquisition run.
type Params struct {
	// Target is a podcast/episode URL or a bare podcast ID. Ignored when
	// FromJSON is set.
	Target string
	// FromJSON re-runs a download from a saved catalog dump instead of
	// querying the platform.
	FromJSON string
	// OutputDir is the root under which the per-podcast directory is
	// created. Empty falls back to the configured download dir.
	OutputDir string
	// Limit caps the number of episodes; 0 means all.
	Limit int
	// SaveOnly records the catalog without transferring audio.
	SaveOnly bool
	// Parallel overrides the configured worker count when positive.
	Parallel   int
	OnProgress func(downloader.ProgressEvent)
}

// Summary is the outcome of a run.
type Summary struct {
	Podcast      string
	PodcastID    string
	OutputDir    string
	Total        int
	Completed    int
	Failed       int
	Skipped      int
	Placeholders int
	Tasks        []downloader.Task
}

// Clean reports whether every task ended without failure.
func (s Summary) Clean() bool { return s.Failed == 0 }

// App wires the catalog client, the web fallback, and the engine into one
// run loop. catalog may be nil when no credentials are available; single
// episodes then resolve through the public web page, and podcast targets
// fail with a clear message.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	catalog Catalog
	web     EpisodeResolver
	engine  Runner
}

func New(catalog Catalog, web EpisodeResolver, engine Runner, cfg config.Config, log *zap.Logger) *App {
	return &App{
		cfg:     cfg,
		log:     log.Named("app"),
		catalog: catalog,
		web:     web,
		engine:  engine,
	}
}

// Run executes one acquisition end to end.
func (a *App) Run(ctx context.Context, params Params) (Summary, error) {
	episodes, title, pid, err := a.gather(ctx, params)
	if err != nil {
		return Summary{}, err
	}

	// the catalog lists newest first; downloads run oldest first so the
	// filename index matches publication order
	lo.Reverse(episodes)

	outRoot := params.OutputDir
	if outRoot == "" {
		outRoot = a.cfg.Download.DownloadDir
	}
	dir, err := files.GetAbsolutePath(filepath.Join(outRoot, files.SanitizeFilename(title)))
	if err != nil {
		return Summary{}, err
	}

	tasks := downloader.BuildTasks(episodes, dir)
	tasks = a.engine.Run(ctx, tasks, downloader.Options{
		SaveOnly:   params.SaveOnly,
		Parallel:   params.Parallel,
		OnProgress: params.OnProgress,
	})

	if err := downloader.WriteRunMetadata(dir, title, pid, tasks); err != nil {
		a.log.Warn("run metadata write failed", zap.Error(err))
	}

	summary := summarize(title, pid, dir, tasks)
	if summary.Failed == 0 && !params.SaveOnly {
		// a clean run needs no manifest left behind
		if err := downloader.RemoveRunMetadata(dir); err != nil {
			a.log.Warn("run metadata cleanup failed", zap.Error(err))
		}
	}
	return summary, ctx.Err()
}

// gather produces the episode list, the directory title, and the podcast
// id, either from a saved catalog dump (FromJSON) or from the platform.
// Live listings are dumped for later re-runs; a dump-sourced run never
// rewrites its own input.
func (a *App) gather(ctx context.Context, params Params) ([]api.EpisodeRecord, string, string, error) {
	if params.FromJSON != "" {
		episodes, pid, err := downloader.ReadCatalogDump(params.FromJSON)
		if err != nil {
			return nil, "", "", err
		}
		if len(episodes) == 0 {
			return nil, "", "", fmt.Errorf("catalog dump %s holds no episodes", params.FromJSON)
		}
		a.log.Info("episodes loaded from catalog dump",
			zap.String("path", params.FromJSON), zap.Int("count", len(episodes)))
		title := episodes[0].PodcastTitle
		if title == "" {
			title = pid
		}
		return episodes, title, pid, nil
	}

	ref, err := resolver.Resolve(params.Target)
	if err != nil {
		return nil, "", "", err
	}
	a.log.Info("target resolved",
		zap.String("kind", ref.Kind.String()), zap.String("id", ref.ID))

	episodes, title, pid, err := a.collect(ctx, ref, params.Limit)
	if err != nil {
		return nil, "", "", err
	}
	if len(episodes) == 0 {
		return nil, "", "", fmt.Errorf("no episodes found for %s", params.Target)
	}

	if pid != "" {
		if err := downloader.WriteCatalogDump(a.cfg.DataPath(), pid, episodes); err != nil {
			// the dump is informational, the run continues without it
			a.log.Warn("catalog dump failed", zap.Error(err))
		}
	}
	return episodes, title, pid, nil
}

// collect turns the resolved reference into the episode list plus the
// title the output directory is named after.
func (a *App) collect(ctx context.Context, ref resolver.Ref, limit int) ([]api.EpisodeRecord, string, string, error) {
	switch ref.Kind {
	case resolver.KindEpisode:
		ep, err := a.fetchEpisode(ctx, ref.ID)
		if err != nil {
			return nil, "", "", err
		}
		title := ep.PodcastTitle
		if title == "" {
			title = ep.Title
		}
		return []api.EpisodeRecord{ep}, title, ep.PodcastID, nil

	case resolver.KindPodcast:
		if a.catalog == nil {
			return nil, "", "", fmt.Errorf("downloading a podcast requires login (run the login command first)")
		}
		episodes, err := a.catalog.ListEpisodes(ctx, ref, limit)
		if err != nil {
			return nil, "", "", err
		}
		title := a.podcastTitle(ctx, ref.ID, episodes)
		return episodes, title, ref.ID, nil

	default:
		return nil, "", "", fmt.Errorf("unsupported reference kind %v", ref.Kind)
	}
}

func (a *App) fetchEpisode(ctx context.Context, eid string) (api.EpisodeRecord, error) {
	if a.catalog != nil {
		return a.catalog.GetEpisode(ctx, eid)
	}
	if a.web == nil {
		return api.EpisodeRecord{}, fmt.Errorf("no episode source configured")
	}
	a.log.Info("no credentials, resolving episode from the public page",
		zap.String("eid", eid))
	return a.web.ResolveEpisode(ctx, eid)
}

func (a *App) podcastTitle(ctx context.Context, pid string, episodes []api.EpisodeRecord) string {
	for _, ep := range episodes {
		if ep.PodcastTitle != "" {
			return ep.PodcastTitle
		}
	}
	if meta, err := a.catalog.PodcastMeta(ctx, pid); err == nil && meta.Title != "" {
		return meta.Title
	}
	return pid
}

func summarize(title, pid, dir string, tasks []downloader.Task) Summary {
	counts := lo.CountValuesBy(tasks, func(t downloader.Task) downloader.TaskState {
		return t.State
	})
	return Summary{
		Podcast:   title,
		PodcastID: pid,
		OutputDir: dir,
		Total:     len(tasks),
		Completed: counts[downloader.StateCompleted],
		Failed:    counts[downloader.StateFailed],
		Skipped:   counts[downloader.StateSkipped],
		Placeholders: lo.CountBy(tasks, func(t downloader.Task) bool {
			return t.PlaceholderSuspected
		}),
		Tasks: tasks,
	}
}
