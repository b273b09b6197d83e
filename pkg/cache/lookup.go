package cache

import (
	"context"
	"strconv"
	"strings"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

// Key builders. The formats are shared with other services reading the
// same Redis, so they must not change.
func GamesKey() string                  { return "cf-games" }
func GameKey(gameID int64) string       { return "cf-games-" + strconv.FormatInt(gameID, 10) }
func CategoriesKey(gameID int64) string { return "cf-categories-id-" + strconv.FormatInt(gameID, 10) }
func ModKey(modID int64) string         { return "cf-mod-" + strconv.FormatInt(modID, 10) }
func FileKey(fileID int64) string       { return "cf-file-" + strconv.FormatInt(fileID, 10) }
func FileInfoKey(fileID int64) string   { return "cf-fileinfo-" + strconv.FormatInt(fileID, 10) }

// ModsKey joins ids in request order.
func ModsKey(modIDs []int64) string {
	parts := make([]string, len(modIDs))
	for i, id := range modIDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "cf-mods-" + strings.Join(parts, "-")
}

// SlugKey identifies a slug search within a game and class.
func SlugKey(game, class, slug string) string {
	return "cf-mod-" + game + "-" + class + "-" + slug
}

// FileInfo is a file together with its project and changelog.
type FileInfo struct {
	Mod       *curseforge.Mod  `json:"mod"`
	File      *curseforge.File `json:"file"`
	Changelog string           `json:"changelog"`
}

// Lookup serves API reads through the cache.
type Lookup struct {
	cache *Cache
	api   curseforge.API
}

// NewLookup creates a Lookup.
func NewLookup(c *Cache, api curseforge.API) *Lookup {
	return &Lookup{cache: c, api: api}
}

// Games lists every game.
func (l *Lookup) Games(ctx context.Context) ([]curseforge.Game, error) {
	games, _, err := GetOrLoad(ctx, l.cache, "games", GamesKey(), func(ctx context.Context) ([]curseforge.Game, bool, error) {
		g, err := l.api.GetGames(ctx)
		return g, err == nil, err
	})
	return games, err
}

// Game returns one game, or curseforge.ErrNotFound.
func (l *Lookup) Game(ctx context.Context, gameID int64) (*curseforge.Game, error) {
	return lookupOne(ctx, l.cache, "game", GameKey(gameID), func(ctx context.Context) (*curseforge.Game, error) {
		return l.api.GetGame(ctx, gameID)
	})
}

// Categories lists a game's categories and classes.
func (l *Lookup) Categories(ctx context.Context, gameID int64) ([]curseforge.Category, error) {
	cats, _, err := GetOrLoad(ctx, l.cache, "categories", CategoriesKey(gameID), func(ctx context.Context) ([]curseforge.Category, bool, error) {
		c, err := l.api.GetCategories(ctx, gameID, false)
		return c, err == nil, err
	})
	return cats, err
}

// Mod returns a project, or curseforge.ErrNotFound. Absence is cached.
func (l *Lookup) Mod(ctx context.Context, modID int64) (*curseforge.Mod, error) {
	return lookupOne(ctx, l.cache, "mod", ModKey(modID), func(ctx context.Context) (*curseforge.Mod, error) {
		return l.api.GetMod(ctx, modID)
	})
}

// Mods returns the projects that exist among modIDs.
func (l *Lookup) Mods(ctx context.Context, modIDs []int64) ([]curseforge.Mod, error) {
	if len(modIDs) == 0 {
		return nil, nil
	}
	mods, _, err := GetOrLoad(ctx, l.cache, "mods", ModsKey(modIDs), func(ctx context.Context) ([]curseforge.Mod, bool, error) {
		m, err := l.api.GetModsByIDs(ctx, modIDs, false)
		return m, err == nil, err
	})
	return mods, err
}

// File returns a file by ID, or curseforge.ErrNotFound. Absence is cached.
func (l *Lookup) File(ctx context.Context, fileID int64) (*curseforge.File, error) {
	return lookupOne(ctx, l.cache, "file", FileKey(fileID), func(ctx context.Context) (*curseforge.File, error) {
		files, err := l.api.GetFilesByIDs(ctx, []int64{fileID})
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, curseforge.ErrNotFound
		}
		return &files[0], nil
	})
}

// FileInfo returns a file with its project and changelog.
func (l *Lookup) FileInfo(ctx context.Context, fileID int64) (*FileInfo, error) {
	return lookupOne(ctx, l.cache, "fileinfo", FileInfoKey(fileID), func(ctx context.Context) (*FileInfo, error) {
		files, err := l.api.GetFilesByIDs(ctx, []int64{fileID})
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, curseforge.ErrNotFound
		}
		file := files[0]

		mod, err := l.api.GetMod(ctx, file.ModID)
		if err != nil {
			return nil, err
		}
		changelog, err := l.api.GetModFileChangelog(ctx, file.ModID, fileID)
		if err != nil && !curseforge.IsNotFound(err) {
			return nil, err
		}
		return &FileInfo{Mod: mod, File: &file, Changelog: changelog}, nil
	})
}

// ModBySlug resolves a slug within a game and class. game and class are
// slugs; an unknown game or class is reported as not found.
func (l *Lookup) ModBySlug(ctx context.Context, game, class, slug string) (*curseforge.Mod, error) {
	game, class, slug = strings.ToLower(game), strings.ToLower(class), strings.ToLower(slug)

	return lookupOne(ctx, l.cache, "slug", SlugKey(game, class, slug), func(ctx context.Context) (*curseforge.Mod, error) {
		games, err := l.Games(ctx)
		if err != nil {
			return nil, err
		}
		var gameID int64
		for _, g := range games {
			if strings.EqualFold(g.Slug, game) {
				gameID = g.ID
				break
			}
		}
		if gameID == 0 {
			return nil, curseforge.ErrNotFound
		}

		cats, err := l.Categories(ctx, gameID)
		if err != nil {
			return nil, err
		}
		var classID int64
		for _, c := range cats {
			if strings.EqualFold(c.Slug, class) {
				classID = c.ID
				break
			}
		}
		if classID == 0 {
			return nil, curseforge.ErrNotFound
		}

		mods, err := l.api.SearchModsBySlug(ctx, gameID, classID, slug)
		if err != nil {
			return nil, err
		}
		if len(mods) != 1 {
			return nil, curseforge.ErrNotFound
		}
		return &mods[0], nil
	})
}

// lookupOne adapts a fetch that reports absence as a not-found error.
func lookupOne[T any](ctx context.Context, c *Cache, cacheType, key string, fetch func(context.Context) (*T, error)) (*T, error) {
	v, found, err := GetOrLoad(ctx, c, cacheType, key, func(ctx context.Context) (*T, bool, error) {
		v, err := fetch(ctx)
		if curseforge.IsNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return v, v != nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, curseforge.ErrNotFound
	}
	return v, nil
}
