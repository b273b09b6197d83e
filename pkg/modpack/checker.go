package modpack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

var (
	// ErrNoDownloadURL means the pack file cannot be fetched.
	ErrNoDownloadURL = errors.New("no file download URL was available, this pack is probably broken")

	// ErrNotDistributableModpack means the project is not a modpack or blocks
	// third-party downloads.
	ErrNotDistributableModpack = errors.New("this pack either does not allow downloads by third party clients, or is not a modpack")
)

// DefaultMaxPackSize bounds pack downloads.
const DefaultMaxPackSize = 512 << 20

// CheckerConfig configures a Checker.
type CheckerConfig struct {
	// HTTPClient downloads pack archives. Default: 5m timeout client
	HTTPClient *http.Client

	// MaxPackSize bounds a pack download in bytes. Default: DefaultMaxPackSize
	MaxPackSize int64
}

// Checker resolves manifest entries against the remote API.
type Checker struct {
	api         curseforge.API
	http        *http.Client
	maxPackSize int64
	logger      *zap.Logger
}

// Result is the outcome of checking one manifest.
type Result struct {
	Manifest *Manifest `json:"manifest"`

	// Unavailable lists projects that cannot be downloaded by third-party
	// launchers, ordered by project ID.
	Unavailable []curseforge.Mod `json:"unavailable"`

	// ProjectsChecked counts distinct projects visited, dependencies included.
	ProjectsChecked int `json:"projectsChecked"`
}

// OK reports whether every project is downloadable.
func (r *Result) OK() bool { return len(r.Unavailable) == 0 }

// NewChecker creates a Checker.
func NewChecker(api curseforge.API, cfg CheckerConfig, logger *zap.Logger) *Checker {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.MaxPackSize <= 0 {
		cfg.MaxPackSize = DefaultMaxPackSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{api: api, http: cfg.HTTPClient, maxPackSize: cfg.MaxPackSize, logger: logger}
}

type pendingRef struct {
	projectID int64
	fileID    int64
}

// Check walks the manifest's files and their required dependencies,
// visiting each project once, and reports the projects that are
// unavailable or disallow third-party distribution.
func (c *Checker) Check(ctx context.Context, m *Manifest) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil {
		return nil, errors.New("manifest is nil")
	}

	checked := make(map[int64]struct{})
	var unavailable []curseforge.Mod

	pending := make([]pendingRef, 0, len(m.Files))
	for _, f := range m.Files {
		pending = append(pending, pendingRef{projectID: f.ProjectID, fileID: f.FileID})
	}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileByProject := make(map[int64]int64, len(pending))
		var ids []int64
		for _, p := range pending {
			if _, seen := checked[p.projectID]; seen {
				continue
			}
			checked[p.projectID] = struct{}{}
			ids = append(ids, p.projectID)
			fileByProject[p.projectID] = p.fileID
		}
		if len(ids) == 0 {
			break
		}

		mods, err := c.api.GetModsByIDs(ctx, ids, false)
		if err != nil {
			return nil, fmt.Errorf("fetch projects: %w", err)
		}

		var fileIDs []int64
		for _, mod := range mods {
			if !mod.Distributable() {
				unavailable = append(unavailable, mod)
				continue
			}
			if fid := fileByProject[mod.ID]; fid != 0 {
				fileIDs = append(fileIDs, fid)
			}
		}

		pending = pending[:0]
		if len(fileIDs) == 0 {
			continue
		}
		files, err := c.api.GetFilesByIDs(ctx, fileIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch files: %w", err)
		}
		for _, f := range files {
			for _, dep := range f.Dependencies {
				if dep.RelationType != curseforge.RelationRequiredDependency {
					continue
				}
				if _, seen := checked[dep.ModID]; seen {
					continue
				}
				pending = append(pending, pendingRef{projectID: dep.ModID})
			}
		}
	}

	slices.SortFunc(unavailable, func(a, b curseforge.Mod) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	c.logger.Debug("Manifest checked",
		zap.String("pack", m.Name),
		zap.Int("projects", len(checked)),
		zap.Int("unavailable", len(unavailable)))

	return &Result{Manifest: m, Unavailable: unavailable, ProjectsChecked: len(checked)}, nil
}

// CheckProjectFile downloads a published modpack file and checks its
// manifest. The project must be a distributable modpack.
func (c *Checker) CheckProjectFile(ctx context.Context, projectID, fileID int64) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	mod, err := c.api.GetMod(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch project %d: %w", projectID, err)
	}
	if mod.ClassID == nil || *mod.ClassID != curseforge.ClassIDModpacks || !mod.Distributable() {
		return nil, ErrNotDistributableModpack
	}

	file, err := c.api.GetModFile(ctx, projectID, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetch file %d: %w", fileID, err)
	}
	if file.DownloadURL == nil || *file.DownloadURL == "" {
		return nil, ErrNoDownloadURL
	}

	data, err := c.download(ctx, *file.DownloadURL)
	if err != nil {
		return nil, err
	}
	m, err := FromZip(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return c.Check(ctx, m)
}

func (c *Checker) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download pack: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download pack: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPackSize+1))
	if err != nil {
		return nil, fmt.Errorf("download pack: %w", err)
	}
	if int64(len(data)) > c.maxPackSize {
		return nil, fmt.Errorf("download pack: archive exceeds %d bytes", c.maxPackSize)
	}
	return data, nil
}
