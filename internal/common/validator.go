package common

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxQueryLength = 256

// NormalizeQuery trims, collapses inner whitespace and NFC-normalizes an artist or album name.
func NormalizeQuery(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// CoverCacheKey builds a case insensitive cache key for an artist and album pair.
func CoverCacheKey(artist, album string) string {
	fold := cases.Fold()
	return "discogs.cover : " + fold.String(NormalizeQuery(artist)) + " | " + fold.String(NormalizeQuery(album))
}

// ValidateArtist checks the artist is a non-empty, reasonably sized UTF-8 string.
func ValidateArtist(artist string) error {
	return validateQuery("artist", artist)
}

// ValidateAlbum checks the album is a non-empty, reasonably sized UTF-8 string.
func ValidateAlbum(album string) error {
	return validateQuery("album", album)
}

func validateQuery(name, s string) error {
	if !utf8.ValidString(s) {
		return errors.New("invalid " + name + ", not UTF-8")
	}

	s = NormalizeQuery(s)
	if s == "" {
		return errors.New("invalid " + name + ", empty")
	}

	if utf8.RuneCountInString(s) > maxQueryLength {
		return errors.New("invalid " + name + ", too long")
	}

	return nil
}
