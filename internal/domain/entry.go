package domain

import (
	"cmp"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Category partitions the mirror into future and historic weather data.
type Category string

const (
	CategoryHistoric Category = "historic"
	CategoryFuture   Category = "future"
)

// Categories returns every known category in synchronization order.
func Categories() []Category {
	return []Category{CategoryHistoric, CategoryFuture}
}

// ParseCategory converts a user-supplied name into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q (want historic or future)", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryHistoric || c == CategoryFuture
}

// IndexFilename is the name of the JSON index persisted for the category.
func (c Category) IndexFilename() string {
	return string(c) + "_weather_filenames.json"
}

// FileKind classifies a weather payload by its extension.
type FileKind string

const (
	FileKindEPW   FileKind = "epw"
	FileKindDDY   FileKind = "ddy"
	FileKindSTAT  FileKind = "stat"
	FileKindOther FileKind = "other"
)

// extensionKinds maps the payload extensions published by the source.
var extensionKinds = map[string]FileKind{
	".epw":  FileKindEPW,
	".ddy":  FileKindDDY,
	".stat": FileKindSTAT,
	".zip":  FileKindOther,
}

// ParseFileKind validates a persisted file kind.
func ParseFileKind(s string) (FileKind, error) {
	switch k := FileKind(s); k {
	case FileKindEPW, FileKindDDY, FileKindSTAT, FileKindOther:
		return k, nil
	default:
		return "", fmt.Errorf("unknown file kind %q", s)
	}
}

// HasWeatherExtension reports whether name ends in a payload extension the
// source publishes. Query strings and fragments must already be stripped.
func HasWeatherExtension(name string) bool {
	_, ok := extensionKinds[strings.ToLower(path.Ext(name))]
	return ok
}

// ClassifyFilename derives the station identifier and file kind from a bare
// filename such as "CAN_AB_Athabasca.AgCM.712710_TMYx.2004-2018.epw".
func ClassifyFilename(name string) (string, FileKind, error) {
	if err := validComponent(name); err != nil {
		return "", "", fmt.Errorf("filename: %w", err)
	}
	ext := path.Ext(name)
	kind, ok := extensionKinds[strings.ToLower(ext)]
	if !ok {
		return "", "", fmt.Errorf("filename %q: unsupported extension %q", name, ext)
	}
	stem := strings.TrimSuffix(name, ext)
	if err := validComponent(stem); err != nil {
		return "", "", fmt.Errorf("station id: %w", err)
	}
	return stem, kind, nil
}

// Key identifies a catalog entry. It is unique within a category's index.
type Key struct {
	StationID string
	Category  Category
	FileKind  FileKind
}

func (k Key) String() string {
	return string(k.Category) + "/" + k.StationID + "/" + string(k.FileKind)
}

// Compare orders keys by category, station, then kind.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Category, o.Category); c != 0 {
		return c
	}
	if c := cmp.Compare(k.StationID, o.StationID); c != 0 {
		return c
	}
	return cmp.Compare(k.FileKind, o.FileKind)
}

// CatalogEntry is one weather file known to the catalog. Category is implied
// by the index file the entry lives in and is not serialized.
type CatalogEntry struct {
	StationID     string   `json:"stationId"`
	Category      Category `json:"-"`
	FileKind      FileKind `json:"fileKind"`
	Filename      string   `json:"filename"`
	RemoteLocator string   `json:"remoteLocator"`
	Size          int64    `json:"size,omitempty"` // bytes on disk after the last successful fetch
}

// Key returns the entry's identity triple.
func (e CatalogEntry) Key() Key {
	return Key{StationID: e.StationID, Category: e.Category, FileKind: e.FileKind}
}

// RelPath is the entry's location relative to the data directory:
// <category>/<stationId>/<filename>.
func (e CatalogEntry) RelPath() string {
	return filepath.Join(string(e.Category), e.StationID, e.Filename)
}

// Validate checks the invariants an indexed entry must satisfy.
func (e CatalogEntry) Validate() error {
	if !e.Category.Valid() {
		return fmt.Errorf("entry %s: unknown category %q", e.Filename, e.Category)
	}
	if _, err := ParseFileKind(string(e.FileKind)); err != nil {
		return fmt.Errorf("entry %s: %w", e.Filename, err)
	}
	if err := validComponent(e.StationID); err != nil {
		return fmt.Errorf("entry %s: station id: %w", e.Filename, err)
	}
	if err := validComponent(e.Filename); err != nil {
		return fmt.Errorf("entry %s: filename: %w", e.StationID, err)
	}
	if e.Size < 0 {
		return fmt.Errorf("entry %s: negative size %d", e.Filename, e.Size)
	}
	return nil
}

// validComponent rejects values that cannot be used as a single path segment.
func validComponent(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not a valid path segment", s)
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("%q contains a path separator", s)
	}
	return nil
}
