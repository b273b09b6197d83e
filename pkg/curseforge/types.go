package curseforge

import "time"

// ModStatus is the moderation status of a project.
type ModStatus int

const (
	ModStatusNew ModStatus = iota + 1
	ModStatusChangesRequired
	ModStatusUnderSoftReview
	ModStatusApproved
	ModStatusRejected
	ModStatusChangesMade
	ModStatusInactive
	ModStatusAbandoned
	ModStatusDeleted
	ModStatusUnderReview
)

// FileReleaseType is the release channel of a file.
type FileReleaseType int

const (
	ReleaseTypeRelease FileReleaseType = iota + 1
	ReleaseTypeBeta
	ReleaseTypeAlpha
)

func (r FileReleaseType) String() string {
	switch r {
	case ReleaseTypeRelease:
		return "release"
	case ReleaseTypeBeta:
		return "beta"
	case ReleaseTypeAlpha:
		return "alpha"
	default:
		return "unknown"
	}
}

// FileStatus is the processing status of a file.
type FileStatus int

// FileRelationType describes how a file depends on another project.
type FileRelationType int

const (
	RelationEmbeddedLibrary FileRelationType = iota + 1
	RelationOptionalDependency
	RelationRequiredDependency
	RelationTool
	RelationIncompatible
	RelationInclude
)

// HashAlgo identifies a file hash algorithm.
type HashAlgo int

const (
	HashAlgoSHA1 HashAlgo = 1
	HashAlgoMD5  HashAlgo = 2
)

// Minecraft identifiers used by the stats jobs.
const (
	GameIDMinecraft int64 = 432
	ClassIDMods     int64 = 6
	ClassIDModpacks int64 = 4471
)

// ModLoaderType is a mod loader filter for searches.
type ModLoaderType int

const (
	ModLoaderAny ModLoaderType = iota
	ModLoaderForge
	ModLoaderCauldron
	ModLoaderLiteLoader
	ModLoaderFabric
	ModLoaderQuilt
	ModLoaderNeoForge
)

func (m ModLoaderType) String() string {
	switch m {
	case ModLoaderAny:
		return "Any"
	case ModLoaderForge:
		return "Forge"
	case ModLoaderCauldron:
		return "Cauldron"
	case ModLoaderLiteLoader:
		return "LiteLoader"
	case ModLoaderFabric:
		return "Fabric"
	case ModLoaderQuilt:
		return "Quilt"
	case ModLoaderNeoForge:
		return "NeoForge"
	default:
		return "ModLoader(" + itoa(int64(m)) + ")"
	}
}

// SortField orders search results.
type SortField int

const (
	SortFeatured SortField = iota + 1
	SortPopularity
	SortLastUpdated
	SortName
	SortAuthor
	SortTotalDownloads
)

// SearchQuery filters GET /v1/mods/search. Zero fields are omitted.
type SearchQuery struct {
	GameID      int64
	ClassID     int64
	GameVersion string
	ModLoader   ModLoaderType
	Slug        string
	SortField   SortField
	Descending  bool
	Index       int
	PageSize    int
}

// Mod is a project on the platform.
type Mod struct {
	ID                   int64       `json:"id"`
	GameID               int64       `json:"gameId"`
	Name                 string      `json:"name"`
	Slug                 string      `json:"slug"`
	Links                ModLinks    `json:"links"`
	Summary              string      `json:"summary"`
	Status               ModStatus   `json:"status"`
	DownloadCount        int64       `json:"downloadCount"`
	IsFeatured           bool        `json:"isFeatured"`
	PrimaryCategoryID    int64       `json:"primaryCategoryId"`
	Categories           []Category  `json:"categories"`
	ClassID              *int64      `json:"classId,omitempty"`
	Authors              []ModAuthor `json:"authors"`
	Logo                 *ModAsset   `json:"logo,omitempty"`
	Screenshots          []ModAsset  `json:"screenshots"`
	MainFileID           int64       `json:"mainFileId"`
	LatestFiles          []File      `json:"latestFiles"`
	LatestFilesIndexes   []FileIndex `json:"latestFilesIndexes"`
	DateCreated          time.Time   `json:"dateCreated"`
	DateModified         time.Time   `json:"dateModified"`
	DateReleased         time.Time   `json:"dateReleased"`
	AllowModDistribution *bool       `json:"allowModDistribution,omitempty"`
	GamePopularityRank   int64       `json:"gamePopularityRank"`
	IsAvailable          bool        `json:"isAvailable"`
	ThumbsUpCount        int64       `json:"thumbsUpCount"`
	Rating               *float64    `json:"rating,omitempty"`
}

// Distributable reports whether third-party launchers may download the
// project's files.
func (m Mod) Distributable() bool {
	return m.IsAvailable && (m.AllowModDistribution == nil || *m.AllowModDistribution)
}

// ModLinks are the external links of a project.
type ModLinks struct {
	WebsiteURL string `json:"websiteUrl"`
	WikiURL    string `json:"wikiUrl"`
	IssuesURL  string `json:"issuesUrl"`
	SourceURL  string `json:"sourceUrl"`
}

// ModAuthor is a project member.
type ModAuthor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ModAsset is a logo or screenshot.
type ModAsset struct {
	ID           int64  `json:"id"`
	ModID        int64  `json:"modId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnailUrl"`
	URL          string `json:"url"`
}

// File is an uploaded project file.
type File struct {
	ID                   int64                 `json:"id"`
	GameID               int64                 `json:"gameId"`
	ModID                int64                 `json:"modId"`
	IsAvailable          bool                  `json:"isAvailable"`
	DisplayName          string                `json:"displayName"`
	FileName             string                `json:"fileName"`
	ReleaseType          FileReleaseType       `json:"releaseType"`
	FileStatus           FileStatus            `json:"fileStatus"`
	Hashes               []FileHash            `json:"hashes"`
	FileDate             time.Time             `json:"fileDate"`
	FileLength           int64                 `json:"fileLength"`
	FileSizeOnDisk       *int64                `json:"fileSizeOnDisk,omitempty"`
	DownloadCount        int64                 `json:"downloadCount"`
	DownloadURL          *string               `json:"downloadUrl,omitempty"`
	GameVersions         []string              `json:"gameVersions"`
	SortableGameVersions []SortableGameVersion `json:"sortableGameVersions"`
	Dependencies         []FileDependency      `json:"dependencies"`
	ExposeAsAlternative  *bool                 `json:"exposeAsAlternative,omitempty"`
	ParentProjectFileID  *int64                `json:"parentProjectFileId,omitempty"`
	AlternateFileID      *int64                `json:"alternateFileId,omitempty"`
	IsServerPack         *bool                 `json:"isServerPack,omitempty"`
	ServerPackFileID     *int64                `json:"serverPackFileId,omitempty"`
	IsEarlyAccessContent *bool                 `json:"isEarlyAccessContent,omitempty"`
	EarlyAccessEndDate   *time.Time            `json:"earlyAccessEndDate,omitempty"`
	FileFingerprint      int64                 `json:"fileFingerprint"`
	Modules              []FileModule          `json:"modules"`
}

// FileHash is a digest of a file's contents.
type FileHash struct {
	Value string   `json:"value"`
	Algo  HashAlgo `json:"algo"`
}

// SortableGameVersion is a game version a file supports.
type SortableGameVersion struct {
	GameVersionName        string    `json:"gameVersionName"`
	GameVersionPadded      string    `json:"gameVersionPadded"`
	GameVersion            string    `json:"gameVersion"`
	GameVersionReleaseDate time.Time `json:"gameVersionReleaseDate"`
	GameVersionTypeID      *int64    `json:"gameVersionTypeId,omitempty"`
}

// FileDependency links a file to another project.
type FileDependency struct {
	ModID        int64            `json:"modId"`
	RelationType FileRelationType `json:"relationType"`
}

// FileModule is a top-level entry inside a file archive.
type FileModule struct {
	Name        string `json:"name"`
	Fingerprint int64  `json:"fingerprint"`
}

// FileIndex summarises the latest file per game version.
type FileIndex struct {
	GameVersion       string          `json:"gameVersion"`
	FileID            int64           `json:"fileId"`
	Filename          string          `json:"filename"`
	ReleaseType       FileReleaseType `json:"releaseType"`
	GameVersionTypeID *int64          `json:"gameVersionTypeId,omitempty"`
	ModLoader         *int            `json:"modLoader,omitempty"`
}

// Game is a game supported by the platform.
type Game struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	DateModified time.Time  `json:"dateModified"`
	Assets       GameAssets `json:"assets"`
	Status       int        `json:"status"`
	APIStatus    int        `json:"apiStatus"`
}

// GameAssets are a game's artwork URLs.
type GameAssets struct {
	IconURL  string `json:"iconUrl"`
	TileURL  string `json:"tileUrl"`
	CoverURL string `json:"coverUrl"`
}

// Category is a project category or class.
type Category struct {
	ID               int64     `json:"id"`
	GameID           int64     `json:"gameId"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	URL              string    `json:"url"`
	IconURL          string    `json:"iconUrl"`
	DateModified     time.Time `json:"dateModified"`
	IsClass          *bool     `json:"isClass,omitempty"`
	ClassID          *int64    `json:"classId,omitempty"`
	ParentCategoryID *int64    `json:"parentCategoryId,omitempty"`
	DisplayIndex     *int      `json:"displayIndex,omitempty"`
}

// GameVersionType is a family of game versions, e.g. "minecraft-1-20".
type GameVersionType struct {
	ID     int64  `json:"id"`
	GameID int64  `json:"gameId"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status int    `json:"status"`
}

// GameVersions lists the version strings of one GameVersionType.
type GameVersions struct {
	Type     int64    `json:"type"`
	Versions []string `json:"versions"`
}

// Pagination is returned by paged endpoints.
type Pagination struct {
	Index       int `json:"index"`
	PageSize    int `json:"pageSize"`
	ResultCount int `json:"resultCount"`
	TotalCount  int `json:"totalCount"`
}

type envelope[T any] struct {
	Data       T           `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}
