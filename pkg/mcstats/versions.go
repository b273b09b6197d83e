// Package mcstats computes Minecraft project statistics from the remote
// API: live per-version counts, hourly snapshots kept in SQL and the
// per-loader history built from those snapshots.
package mcstats

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

// VersionGroup is one release family and its version strings, both in
// natural order.
type VersionGroup struct {
	TypeID   int64
	Name     string
	Slug     string
	Versions []string
}

var digitRun = regexp.MustCompile(`\d+`)

// naturalKey left-pads every digit run so that "1.9" sorts before "1.10".
func naturalKey(s string) string {
	return digitRun.ReplaceAllStringFunc(s, func(d string) string {
		if len(d) >= 10 {
			return d
		}
		return strings.Repeat("0", 10-len(d)) + d
	})
}

// NaturalLess orders strings with embedded numbers numerically.
func NaturalLess(a, b string) bool {
	ka, kb := naturalKey(a), naturalKey(b)
	if ka != kb {
		return ka < kb
	}
	return a < b
}

func sortNatural(s []string) {
	sort.Slice(s, func(i, j int) bool { return NaturalLess(s[i], s[j]) })
}

// isReleaseFamily keeps "minecraft-1-20" style types and drops betas and
// non-version types such as modloaders.
func isReleaseFamily(slug string) bool {
	return strings.HasPrefix(slug, "minecraft-") && !strings.HasSuffix(slug, "beta")
}

// Releases lists the Minecraft release families with their versions.
// Families without any versions are dropped.
func Releases(ctx context.Context, api curseforge.API) ([]VersionGroup, error) {
	types, err := api.GetGameVersionTypes(ctx, curseforge.GameIDMinecraft)
	if err != nil {
		return nil, fmt.Errorf("list version types: %w", err)
	}
	versions, err := api.GetGameVersions(ctx, curseforge.GameIDMinecraft)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	byType := make(map[int64][]string, len(versions))
	for _, v := range versions {
		byType[v.Type] = append(byType[v.Type], v.Versions...)
	}

	var out []VersionGroup
	for _, t := range types {
		if !isReleaseFamily(t.Slug) {
			continue
		}
		vs := append([]string(nil), byType[t.ID]...)
		if len(vs) == 0 {
			continue
		}
		sortNatural(vs)
		out = append(out, VersionGroup{TypeID: t.ID, Name: t.Name, Slug: t.Slug, Versions: vs})
	}
	sort.Slice(out, func(i, j int) bool { return NaturalLess(out[i].Slug, out[j].Slug) })
	return out, nil
}
