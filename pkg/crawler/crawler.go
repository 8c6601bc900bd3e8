package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	frontier "github.com/devraulu/webscraper/pkg"
	"github.com/devraulu/webscraper/pkg/config"
	"github.com/devraulu/webscraper/pkg/process"
	"github.com/devraulu/webscraper/pkg/storage"
)

const progressEvery = 50

type Crawler struct {
	cfg              *config.Config
	store            storage.Storage
	client           *http.Client
	fetcher          *Fetcher
	onDatasetCreated func(storage.Dataset) error
	Stats            CrawlStats
}

type Option func(*Crawler)

// WithHTTPClient sets the client used for robots.txt, sitemaps and pages.
// Its redirect policy is replaced for page fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		c.client = client
	}
}

// WithDatasetCreated registers a hook called once a dataset was created, after
// the config was switched to update mode.
func WithDatasetCreated(fn func(storage.Dataset) error) Option {
	return func(c *Crawler) {
		c.onDatasetCreated = fn
	}
}

func New(cfg *config.Config, store storage.Storage, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:    cfg,
		store:  store,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fetcher = NewFetcher(c.client, cfg.Crawler.GetUserAgent(), cfg.Crawler.GetFetchTimeout(), cfg.Crawler.MaxBodyBytes)
	return c
}

// crawl is the state of one Run.
type crawl struct {
	dataset    storage.Dataset
	created    bool
	policy     *process.Policy
	frontier   *frontier.Frontier
	reconciler *Reconciler
}

type visitState int

const (
	awaitDelay visitState = iota
	fetchPage
	extractPage
	emitPage
	visitDone
)

type visit struct {
	page       *frontier.Page
	state      visitState
	result     FetchResult
	extraction *process.Extraction
}

// Run crawls the configured site once and reconciles the dataset with what
// was found. A cancelled ctx stops the crawl before the next fetch; no stale
// record is deleted in that case and ctx.Err() is returned.
func (c *Crawler) Run(ctx context.Context) error {
	c.Stats = CrawlStats{StartTime: time.Now()}

	created := c.cfg.DatasetMode == config.ModeCreate
	dataset, err := c.openDataset(ctx)
	if err != nil {
		return err
	}

	exclude, err := process.CompileExcludePatterns(c.cfg.Crawler.ExcludeURLPatterns)
	if err != nil {
		return err
	}

	userAgent := c.cfg.Crawler.GetUserAgent()
	robotsCtx, cancel := context.WithTimeout(ctx, c.cfg.Politeness.GetRobotsTimeout())
	policy := process.LoadPolicy(robotsCtx, c.client, c.cfg.Crawler.BaseURLs, userAgent, c.cfg.Politeness.GetDefaultCrawlDelay())
	cancel()

	run := &crawl{dataset: dataset, created: created, policy: policy}
	run.frontier = frontier.NewFrontier(frontier.Options{
		BaseURLs:  c.cfg.Crawler.BaseURLs,
		Exclude:   exclude,
		Robots:    policy,
		UserAgent: userAgent,
		Progress:  logProgress,
	})

	if err := c.seed(ctx, run); err != nil {
		return err
	}

	stopped := false
	for {
		page, exhausted := run.frontier.Next()
		if exhausted {
			break
		}
		if err := c.visit(ctx, run, page); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("crawl stopped", slog.String("url", page.URL), slog.Int("remaining", run.frontier.Remaining()+1))
				stopped = true
				break
			}
			return err
		}
	}

	if !stopped {
		deleted, err := run.reconciler.DeleteStale(context.WithoutCancel(ctx), c.store, dataset.ID)
		c.Stats.Deleted = deleted
		if err != nil {
			return err
		}
	}

	slog.Info("crawl complete",
		slog.String("dataset", dataset.ID),
		slog.Bool("stopped", stopped),
		slog.Int("emitted", c.Stats.Emitted),
		slog.Int("fragments", c.Stats.Fragments),
		slog.Int("unchanged", c.Stats.Unchanged),
		slog.Int("redirected", c.Stats.Redirected),
		slog.Int("failed", c.Stats.Failed),
		slog.Int("skipped", c.Stats.Skipped),
		slog.Int("deleted", c.Stats.Deleted),
		slog.Duration("elapsed", c.Stats.Elapsed()),
		slog.Float64("pages_per_sec", c.Stats.PagesPerSecond()),
	)

	if stopped {
		return ctx.Err()
	}
	return nil
}

func (c *Crawler) openDataset(ctx context.Context) (storage.Dataset, error) {
	switch c.cfg.DatasetMode {
	case config.ModeCreate:
		extras := map[string]string{}
		if c.cfg.ProcessingID != "" {
			extras["processingId"] = c.cfg.ProcessingID
		}
		d, err := c.store.CreateDataset(ctx, storage.Dataset{
			ID:     c.cfg.Dataset.ID,
			Title:  c.cfg.Dataset.Title,
			Schema: storage.Schema,
			Extras: extras,
		})
		if err != nil {
			return storage.Dataset{}, &DatasetError{ID: c.cfg.Dataset.ID, Err: err}
		}
		slog.Info("dataset created", slog.String("id", d.ID), slog.String("title", d.Title))

		c.cfg.DatasetMode = config.ModeUpdate
		c.cfg.Dataset.ID = d.ID
		c.cfg.Dataset.Title = d.Title
		if c.onDatasetCreated != nil {
			if err := c.onDatasetCreated(d); err != nil {
				return storage.Dataset{}, err
			}
		}
		return d, nil

	case config.ModeUpdate:
		d, err := c.store.GetDataset(ctx, c.cfg.Dataset.ID)
		if err != nil {
			return storage.Dataset{}, &DatasetError{ID: c.cfg.Dataset.ID, Err: err}
		}
		slog.Info("the dataset exists", slog.String("id", d.ID), slog.String("title", d.Title))
		return d, nil

	default:
		return storage.Dataset{}, config.ErrInvalidDatasetMode
	}
}

// seed fills the frontier: records of the previous run first, then start
// URLs, the seeds file and the sitemaps.
func (c *Crawler) seed(ctx context.Context, run *crawl) error {
	var previous []storage.Record
	if !run.created {
		var err error
		previous, err = c.store.ListRecords(ctx, run.dataset.ID)
		if err != nil {
			return err
		}
	}
	run.reconciler = NewReconciler(previous, parentOf)

	if len(previous) > 0 {
		slog.Info("add pages from previous crawls", slog.Int("count", len(previous)))
	}
	for _, rec := range previous {
		page, err := frontier.RehydratePage(rec.URL, rec.ETag, rec.LastModified)
		if err != nil {
			slog.Debug("skip previous record", slog.String("url", rec.URL), slog.Any("err", err))
			continue
		}
		run.frontier.Push(page)
	}

	slog.Info("add pages from config", slog.Int("count", len(c.cfg.Crawler.StartURLs)))
	frontier.PushAll(run.frontier, c.cfg.Crawler.StartURLs, "config start URLs")

	if c.cfg.Crawler.SeedsFile != "" {
		err := frontier.LoadSeeds(c.cfg.Crawler.SeedsFile, run.frontier)
		if errors.Is(err, frontier.ErrNoSeeds) {
			slog.Warn("seeds file is empty", slog.String("path", c.cfg.Crawler.SeedsFile))
		} else if err != nil {
			return err
		}
	}

	for _, sitemapURL := range mergeSitemaps(c.cfg.Crawler.Sitemaps, run.policy.Sitemaps()) {
		slog.Info("fetch start URLs from sitemap", slog.String("url", sitemapURL))
		urls, err := process.FetchSitemap(ctx, c.client, sitemapURL, c.cfg.Crawler.GetUserAgent())
		if err != nil {
			slog.Warn("failed to fetch sitemap", slog.String("url", sitemapURL), slog.Any("err", err))
			continue
		}
		admitted := frontier.PushAll(run.frontier, urls, "sitemap")
		slog.Info("sitemap loaded", slog.String("url", sitemapURL), slog.Int("urls", len(urls)), slog.Int("admitted", admitted))
	}

	return nil
}

func (c *Crawler) visit(ctx context.Context, run *crawl, page *frontier.Page) error {
	v := &visit{page: page, state: awaitDelay}
	for v.state != visitDone {
		var err error
		switch v.state {
		case awaitDelay:
			err = c.awaitDelay(ctx, run, v)
		case fetchPage:
			c.fetch(context.WithoutCancel(ctx), run, v)
		case extractPage:
			err = c.extract(v)
		case emitPage:
			err = c.emit(context.WithoutCancel(ctx), run, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// awaitDelay is the only point where cancellation is observed.
func (c *Crawler) awaitDelay(ctx context.Context, run *crawl, v *visit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := run.policy.CrawlDelay(v.page.Origin())
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	v.state = fetchPage
	return nil
}

func (c *Crawler) fetch(ctx context.Context, run *crawl, v *visit) {
	v.result = c.fetcher.Fetch(ctx, v.page)
	v.state = visitDone

	switch v.result.Outcome {
	case NotModified:
		slog.Debug("page was not modified since last exploration", slog.String("url", v.page.URL))
		run.reconciler.ConfirmUnchanged(v.page.ID)
		c.Stats.Unchanged++

	case Redirected:
		slog.Debug("page redirected", slog.String("url", v.page.URL), slog.String("location", v.result.Location))
		run.frontier.PushURL(v.result.Location, "redirect from "+v.page.URL)
		c.Stats.Redirected++

	case Failed:
		slog.Warn("failed to fetch page", slog.String("url", v.page.URL), slog.String("source", v.page.Source), slog.Any("err", v.result.Err))
		c.Stats.Failed++

	case Fetched:
		v.page.ETag = v.result.ETag
		v.page.LastModified = v.result.LastModified
		if !process.IsHTML(v.result.ContentType, v.result.Body) {
			slog.Debug("skip non html page", slog.String("url", v.page.URL), slog.String("content_type", v.result.ContentType))
			c.Stats.Skipped++
			return
		}
		v.state = extractPage
	}
}

func (c *Crawler) extract(v *visit) error {
	v.state = visitDone

	header := process.HeaderDirectives(v.result.Header)
	extraction, err := process.Extract(v.page.URL, v.result.Body, header, c.extractOptions())
	if err != nil {
		slog.Warn("failed to extract page", slog.String("url", v.page.URL), slog.Any("err", err))
		c.Stats.Failed++
		return nil
	}

	v.page.Title = extraction.Title
	v.page.Tags = extraction.Tags
	v.page.NoIndex = extraction.NoIndex
	v.page.NoFollow = extraction.NoFollow
	v.extraction = extraction
	v.state = emitPage
	return nil
}

// emit stores anchor fragments, pushes outlinks, then stores the page itself
// unless it is noindex.
func (c *Crawler) emit(ctx context.Context, run *crawl, v *visit) error {
	v.state = visitDone
	page, ex := v.page, v.extraction

	for _, frag := range ex.Fragments {
		fragPage, err := frontier.NewPage(frag.URL, "anchor "+page.URL)
		if err != nil {
			continue
		}
		fragPage.Title = frag.Title
		fragPage.Tags = frag.Tags
		fragPage.ParentID = page.ID
		if err := c.send(ctx, run, fragPage, process.WrapFragment(frag.HTML)); err != nil {
			return err
		}
		c.Stats.Fragments++
	}

	if !page.NoFollow {
		frontier.PushAll(run.frontier, ex.Links, "link from "+page.URL)
	}

	if page.NoIndex {
		slog.Debug("skip noindex page", slog.String("url", page.URL))
		c.Stats.Skipped++
		return nil
	}
	if err := c.send(ctx, run, page, ex.HTML); err != nil {
		return err
	}
	c.Stats.Emitted++
	return nil
}

func (c *Crawler) send(ctx context.Context, run *crawl, page *frontier.Page, markup string) error {
	title := strings.TrimSpace(page.Title)
	if prefix := c.cfg.Extract.TitlePrefix; prefix != "" {
		title = strings.TrimPrefix(title, prefix)
	}

	text, err := process.ExtractText(markup)
	if err != nil {
		slog.Warn("failed to extract text", slog.String("url", page.URL), slog.Any("err", err))
	}

	slog.Debug("send page", slog.String("url", page.URL), slog.String("id", page.ID))
	err = c.store.UpsertRecord(ctx, run.dataset.ID, storage.Record{
		ID:           page.ID,
		URL:          page.URL,
		Title:        title,
		Tags:         page.Tags,
		ETag:         page.ETag,
		LastModified: page.LastModified,
		Content:      []byte(markup),
		ContentType:  storage.DefaultContentType,
		Filename:     storage.DefaultFilename,
		Text:         text,
	})
	if err != nil {
		return err
	}
	run.reconciler.Confirm(page.ID)
	return nil
}

func (c *Crawler) extractOptions() process.ExtractOptions {
	opts := process.ExtractOptions{
		TitleSelectors: c.cfg.Extract.TitleSelectors,
		TagsSelectors:  c.cfg.Extract.TagsSelectors,
		Prune:          c.cfg.Extract.Prune,
	}
	for _, a := range c.cfg.Extract.Anchors {
		opts.Anchors = append(opts.Anchors, process.AnchorRule{
			Tags:            a.Tags,
			WrapperSelector: a.WrapperSelector,
			TitleSelector:   a.TitleSelector,
		})
	}
	return opts
}

func parentOf(rec storage.Record) string {
	page, err := frontier.RehydratePage(rec.URL, rec.ETag, rec.LastModified)
	if err != nil {
		return ""
	}
	return page.ParentID
}

func mergeSitemaps(configured, declared []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, s := range append(append([]string{}, configured...), declared...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	return merged
}

func logProgress(cursor, total int) {
	slog.Debug("crawl pages", slog.Int("cursor", cursor), slog.Int("total", total))
	if cursor > 0 && cursor%progressEvery == 0 {
		slog.Info("crawl pages", slog.Int("cursor", cursor), slog.Int("total", total))
	}
}
