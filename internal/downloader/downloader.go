package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"github.com/italolelis/transferkit/internal/easy"
	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/multi"
	"github.com/italolelis/transferkit/internal/notifier"
	"github.com/italolelis/transferkit/internal/option"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/telemetry"
	"github.com/italolelis/transferkit/internal/transfer"
)

const (
	dirPerm   = 0755
	sniffLen  = 512
	waitSlice = time.Second

	defaultProgressInterval = int64(100 * 1024 * 1024) // 100MB
)

// Request is one URL to fetch. Path is the target file relative to the output
// filesystem; it is derived from the URL when empty.
type Request struct {
	URL  string
	Path string
}

// Result is the outcome of one Request.
type Result struct {
	ID          string
	URL         string
	Path        string
	Status      storage.Status
	Code        transfer.Code
	Bytes       int64
	ContentType string
	Duration    time.Duration
	Err         error
}

// Options are applied to every transfer of a fetch.
type Options struct {
	MaxParallel      int
	Timeout          time.Duration
	ConnectTimeout   time.Duration
	FollowLocation   bool
	MaxRedirs        int
	FailOnError      bool
	Insecure         bool
	UserAgent        string
	BearerToken      string
	CookieJar        string
	Proxy            string
	Headers          []string
	ProgressInterval int64
}

type Downloader struct {
	fs         billy.Filesystem
	repo       storage.TransferRepository
	notifier   notifier.Notifier
	tel        *telemetry.Telemetry
	instanceID string
	opts       Options
}

func NewDownloader(
	fs billy.Filesystem,
	repo storage.TransferRepository,
	n notifier.Notifier,
	tel *telemetry.Telemetry,
	opts Options,
) *Downloader {
	if n == nil {
		n = notifier.Nop{}
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	return &Downloader{
		fs:         fs,
		repo:       repo,
		notifier:   n,
		tel:        tel,
		instanceID: storage.GenerateInstanceID(),
		opts:       opts,
	}
}

type job struct {
	result Result
	h      *easy.Handle
	file   billy.File
	out    *sink
	done   bool
}

// Fetch downloads every request concurrently and returns the results in request
// order. A failed transfer does not stop the others. Fetch returns an error only when
// the transfer set itself fails or ctx is canceled.
func (d *Downloader) Fetch(ctx context.Context, reqs []Request) ([]Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	if len(reqs) == 0 {
		return nil, fmt.Errorf("no urls to fetch")
	}

	m, err := multi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer set: %w", err)
	}

	m.Instrument(d.tel)

	jobs := make([]*job, 0, len(reqs))

	defer func() {
		_ = m.Close()

		for _, j := range jobs {
			if j.h != nil {
				_ = j.h.Close()
			}
		}
	}()

	if err := m.SetOption(option.New(option.MaxTotalConnections, max(d.opts.MaxParallel, 0))); err != nil {
		return nil, fmt.Errorf("failed to configure transfer set: %w", err)
	}

	names := make(map[string]int)

	for _, req := range reqs {
		j := d.prepare(ctx, req, names)
		jobs = append(jobs, j)

		if j.done {
			continue
		}

		if err := m.Add(j.h); err != nil {
			d.finish(ctx, j, err)
		}
	}

	logger.Info("fetching", "transfers", len(reqs), "max_parallel", d.opts.MaxParallel)

	for {
		settled, err := m.Perform(ctx)
		if err != nil {
			return results(jobs), fmt.Errorf("failed to perform transfers: %w", err)
		}

		d.collect(ctx, m)

		if settled {
			break
		}

		if ctx.Err() != nil {
			break
		}

		timeout, err := m.Timeout()
		if err != nil {
			return results(jobs), fmt.Errorf("failed to get transfer timeout: %w", err)
		}

		if timeout < 0 || timeout > waitSlice {
			timeout = waitSlice
		}

		if _, err := m.Wait(nil, timeout); err != nil {
			return results(jobs), fmt.Errorf("failed to wait for transfers: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		for _, j := range jobs {
			if !j.done {
				_ = m.Remove(j.h)
				d.finish(context.WithoutCancel(ctx), j, transfer.NewError("fetch", transfer.CodeAbortedByCallback, "fetch canceled", err))
			}
		}

		return results(jobs), err
	}

	d.summarize(ctx, jobs)

	return results(jobs), nil
}

func (d *Downloader) prepare(ctx context.Context, req Request, names map[string]int) *job {
	j := &job{result: Result{URL: req.URL}}

	name := req.Path
	if name == "" {
		name = fileName(req.URL)
	}

	j.result.Path = uniqueName(names, path.Clean(name))

	h, err := easy.New()
	if err != nil {
		d.finish(ctx, j, err)
		return j
	}

	j.h = h
	j.result.ID = h.ID()

	if err := d.repo.TrackTransfer(ctx, j.result.ID, req.URL, j.result.Path); err != nil {
		d.finish(ctx, j, transfer.NewError("fetch", transfer.CodeFailedInit, "failed to track transfer", err))
		return j
	}

	claimed, err := d.repo.ClaimTransfer(ctx, j.result.ID, d.instanceID)
	if err != nil || !claimed {
		d.finish(ctx, j, transfer.NewError("fetch", transfer.CodeFailedInit, "failed to claim transfer", errors.Join(err, errNotClaimed(claimed))))
		return j
	}

	if dir := path.Dir(j.result.Path); dir != "." {
		if err := d.fs.MkdirAll(dir, dirPerm); err != nil {
			d.finish(ctx, j, transfer.NewError("fetch", transfer.CodeWriteError, "failed to create target directory", err))
			return j
		}
	}

	f, err := d.fs.Create(j.result.Path)
	if err != nil {
		d.finish(ctx, j, transfer.NewError("fetch", transfer.CodeWriteError, "failed to create target file", err))
		return j
	}

	j.file = f
	j.out = &sink{w: f}

	if err := d.configure(ctx, j); err != nil {
		d.finish(ctx, j, err)
	}

	return j
}

func (d *Downloader) configure(ctx context.Context, j *job) error {
	o := d.opts

	strs := []option.Pair[option.Option, string]{option.New(option.URL, j.result.URL)}
	for opt, v := range map[option.Option]string{
		option.UserAgent:     o.UserAgent,
		option.XOAuth2Bearer: o.BearerToken,
		option.CookieJar:     o.CookieJar,
		option.Proxy:         o.Proxy,
	} {
		if v != "" {
			strs = append(strs, option.New(opt, v))
		}
	}

	if err := easy.AddPairs(j.h, strs); err != nil {
		return err
	}

	maxRedirs := o.MaxRedirs
	if maxRedirs == 0 {
		maxRedirs = -1
	}

	return j.h.Add(
		option.New(option.FollowLocation, o.FollowLocation),
		option.New(option.MaxRedirs, maxRedirs),
		option.New(option.FailOnError, o.FailOnError),
		option.New(option.SSLVerifyPeer, !o.Insecure),
		option.New(option.Timeout, o.Timeout),
		option.New(option.ConnectTimeout, o.ConnectTimeout),
		option.New(option.HTTPHeader, o.Headers),
		option.New(option.WriteData, io.Writer(j.out)),
		option.New(option.XferInfoFunction, d.progress(ctx, j.result.URL)),
		option.New(option.Private, any(j)),
	)
}

func (d *Downloader) progress(ctx context.Context, rawURL string) option.XferInfoFunc {
	logger := logctx.LoggerFromContext(ctx)

	var last int64

	return func(dlTotal, dlNow, _, _ int64) error {
		if dlNow == last || (dlNow-last < d.opts.ProgressInterval && dlNow != dlTotal) {
			return nil
		}

		last = dlNow

		if dlTotal > 0 {
			logger.Debug("download progress",
				"url", rawURL,
				"downloaded", humanize.Bytes(uint64(dlNow)),
				"total", humanize.Bytes(uint64(dlTotal)),
				"percent", humanize.FtoaWithDigits(float64(dlNow)*100/float64(dlTotal), 2))
		} else {
			logger.Debug("download progress", "url", rawURL, "downloaded", humanize.Bytes(uint64(dlNow)))
		}

		return nil
	}
}

func (d *Downloader) collect(ctx context.Context, m *multi.Multi) {
	for {
		msg, _ := m.InfoRead()
		if msg == nil {
			return
		}

		priv, err := easy.GetInfo[any](msg.Handle, easy.Private)
		if err != nil {
			continue
		}

		if j, ok := priv.(*job); ok {
			d.finish(ctx, j, msg.Result)
		}
	}
}

// finish records the outcome of j in the journal. It is called exactly once per job.
func (d *Downloader) finish(ctx context.Context, j *job, err error) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", j.result.ID, "url", j.result.URL)

	j.done = true
	j.result.Err = err
	j.result.Code = transfer.CodeOf(err)

	if j.h != nil {
		total, _ := easy.GetInfo[time.Duration](j.h, easy.TotalTime)
		j.result.Duration = total
	}

	if j.file != nil {
		if cerr := j.file.Close(); cerr != nil && err == nil {
			err = transfer.NewError("fetch", transfer.CodeWriteError, "failed to close target file", cerr)
			j.result.Err, j.result.Code = err, transfer.CodeWriteError
		}
	}

	if j.out != nil {
		j.result.Bytes = j.out.n
		j.result.ContentType = d.contentType(j)
	}

	if err != nil {
		j.result.Status = storage.StatusFailed

		if j.file != nil {
			if rerr := d.fs.Remove(j.result.Path); rerr != nil {
				logger.Warn("failed to remove partial file", "file", j.result.Path, "err", rerr)
			}
		}

		logger.Error("transfer failed", "code", int(j.result.Code), "err", err)

		if nerr := d.notifier.Notify(ctx, fmt.Sprintf("Transfer failed: %s (%s)", j.result.URL, j.result.Code)); nerr != nil {
			logger.Warn("failed to send notification", "err", nerr)
		}
	} else {
		j.result.Status = storage.StatusCompleted

		logger.Info("downloaded and saved file",
			"target", j.result.Path,
			"size", humanize.Bytes(uint64(j.result.Bytes)),
			"content_type", j.result.ContentType,
			"duration", j.result.Duration,
		)
	}

	if j.result.ID == "" {
		return
	}

	res := storage.Result{
		Status:      j.result.Status,
		Code:        int(j.result.Code),
		Bytes:       j.result.Bytes,
		ContentType: j.result.ContentType,
	}

	if err := d.repo.CompleteTransfer(ctx, j.result.ID, res); err != nil {
		logger.Error("failed to journal transfer result", "err", err)
	}
}

// contentType sniffs the first body bytes and falls back to the server's header.
func (d *Downloader) contentType(j *job) string {
	if len(j.out.head) > 0 {
		return mimetype.Detect(j.out.head).String()
	}

	if j.h == nil {
		return ""
	}

	ct, _ := easy.GetInfo[string](j.h, easy.ContentType)

	return ct
}

func (d *Downloader) summarize(ctx context.Context, jobs []*job) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		ok    int
		bytes int64
	)

	for _, j := range jobs {
		if j.result.Status == storage.StatusCompleted {
			ok++
			bytes += j.result.Bytes
		}
	}

	msg := fmt.Sprintf("Fetched %d of %d transfers (%s)", ok, len(jobs), humanize.Bytes(uint64(bytes)))
	logger.Info("fetch finished", "completed", ok, "failed", len(jobs)-ok, "bytes", humanize.Bytes(uint64(bytes)))

	if err := d.notifier.Notify(ctx, msg); err != nil {
		logger.Warn("failed to send notification", "err", err)
	}
}

func results(jobs []*job) []Result {
	out := make([]Result, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.result)
	}

	return out
}

func errNotClaimed(claimed bool) error {
	if claimed {
		return nil
	}

	return errors.New("transfer is locked by another instance")
}

// fileName derives a target name from the last path segment of rawURL.
func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "index.html"
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return "index.html"
	}

	return base
}

// uniqueName appends a counter to names that were already used in this fetch. used
// maps every name handed out to the last counter tried for it.
func uniqueName(used map[string]int, name string) string {
	if _, ok := used[name]; !ok {
		used[name] = 0
		return name
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := used[name] + 1; ; n++ {
		candidate := stem + "-" + strconv.Itoa(n) + ext
		if _, ok := used[candidate]; ok {
			continue
		}

		used[name] = n
		used[candidate] = 0

		return candidate
	}
}

// sink counts body bytes and keeps the head for content sniffing.
type sink struct {
	w    io.Writer
	head []byte
	n    int64
}

func (s *sink) Write(p []byte) (int, error) {
	if len(s.head) < sniffLen {
		take := min(sniffLen-len(s.head), len(p))
		s.head = append(s.head, p[:take]...)
	}

	n, err := s.w.Write(p)
	s.n += int64(n)

	return n, err
}
