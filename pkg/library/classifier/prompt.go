package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/humblevault/humblevault/pkg/library/models"
)

const textHintLimit = 500

func classifySystemPrompt() string {
	return "You classify Humble Bundle items into one category. " +
		"Choose from: " + strings.Join(models.Categories, ", ") + ". " +
		"If the download is a packaged .zip/.7z but clearly holds art, sounds or a course, choose that content category instead of archive."
}

func classifyPrompt(in Input) string {
	hints := in.Description
	if r := []rune(hints); len(r) > textHintLimit {
		hints = string(r[:textHintLimit])
	}
	return fmt.Sprintf(
		"Classify this Humble download.\nBundle: %s\nProduct: %s\nFilename: %s\nExtension: %s\nPlatform hint: %s\nText hints: %s\n"+
			"Answer with a single category word from the list.",
		in.Bundle, in.Title, in.FileName, orDefault(in.Ext, "none"), orDefault(in.Platform, "unknown"), hints,
	)
}

func describePrompt(in Input) string {
	return fmt.Sprintf(
		"Write a brief, neutral 1-2 sentence description of this Humble item.\nBundle: %s\nProduct: %s\nFilename: %s\n",
		in.Bundle, in.Title, in.FileName,
	)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// aliases folds common model answers onto the category set.
var aliases = map[string]string{
	"book":          models.CategoryEbook,
	"books":         models.CategoryEbook,
	"novel":         models.CategoryEbook,
	"manga":         models.CategoryComic,
	"comics":        models.CategoryComic,
	"music":         models.CategoryAudio,
	"soundtrack":    models.CategoryAudio,
	"audiobook":     models.CategoryAudio,
	"sound":         models.CategorySounds,
	"sfx":           models.CategorySounds,
	"sound effects": models.CategorySounds,
	"course":        models.CategoryVideo,
	"tutorial":      models.CategoryVideo,
	"video course":  models.CategoryVideo,
	"app":           models.CategorySoftware,
	"application":   models.CategorySoftware,
	"tool":          models.CategorySoftware,
	"utility":       models.CategorySoftware,
	"source":        models.CategorySoftware,
	"games":         models.CategoryGame,
	"sprites":       models.CategoryArt,
	"sprite":        models.CategoryArt,
	"tileset":       models.CategoryArt,
	"tiles":         models.CategoryArt,
	"characters":    models.CategoryArt,
	"ui":            models.CategoryArt,
	"icons":         models.CategoryArt,
	"rpg maker":     models.CategoryRPGMaker,
	"rpg-maker":     models.CategoryRPGMaker,
	"unreal engine": models.CategoryUnreal,
	"unity3d":       models.CategoryUnity,
}

var separators = regexp.MustCompile(`[\\|/;,\n]+`)

// ParseCategories extracts the known labels from a free-text answer, in
// answer order and without duplicates.
func ParseCategories(text string) []string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return nil
	}
	var found []string
	add := func(v string) {
		for _, f := range found {
			if f == v {
				return
			}
		}
		found = append(found, v)
	}

	for _, part := range separators.Split(cleaned, -1) {
		part = strings.Trim(strings.TrimSpace(part), ".\"'`*")
		if part == "" {
			continue
		}
		if v, ok := normalize(part); ok {
			add(v)
		}
	}
	if len(found) > 0 {
		return found
	}
	for _, word := range strings.Fields(cleaned) {
		if v, ok := normalize(strings.Trim(word, ".\"'`*:")); ok {
			add(v)
		}
	}
	return found
}

func normalize(v string) (string, bool) {
	if a, ok := aliases[v]; ok {
		return a, true
	}
	if models.IsCategory(v) {
		return v, true
	}
	return "", false
}
