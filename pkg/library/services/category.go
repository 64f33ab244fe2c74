package services

import (
	"regexp"
	"strings"

	"github.com/humblevault/humblevault/pkg/library/models"
)

var extCategories = map[string]string{
	"pdf":          models.CategoryEbook,
	"epub":         models.CategoryEbook,
	"mobi":         models.CategoryEbook,
	"azw3":         models.CategoryEbook,
	"cbz":          models.CategoryComic,
	"cbr":          models.CategoryComic,
	"mp3":          models.CategoryAudio,
	"flac":         models.CategoryAudio,
	"aac":          models.CategoryAudio,
	"ogg":          models.CategoryAudio,
	"m4a":          models.CategoryAudio,
	"wav":          models.CategorySounds,
	"mp4":          models.CategoryVideo,
	"mkv":          models.CategoryVideo,
	"avi":          models.CategoryVideo,
	"mov":          models.CategoryVideo,
	"unitypackage": models.CategoryUnity,
	"uasset":       models.CategoryUnreal,
	"uproject":     models.CategoryUnreal,
	"fbx":          models.Category3D,
	"obj":          models.Category3D,
	"blend":        models.Category3D,
	"psd":          models.CategoryArt,
	"png":          models.CategoryArt,
	"jpg":          models.CategoryArt,
	"jpeg":         models.CategoryArt,
	"exe":          models.CategorySoftware,
	"msi":          models.CategorySoftware,
	"dmg":          models.CategorySoftware,
	"pkg":          models.CategorySoftware,
	"deb":          models.CategorySoftware,
	"rpm":          models.CategorySoftware,
	"sh":           models.CategorySoftware,
	"appimage":     models.CategorySoftware,
	"iso":          models.CategorySoftware,
	"rom":          models.CategorySoftware,
	"img":          models.CategorySoftware,
	"apk":          models.CategoryAndroid,
}

var platformCategories = map[string]string{
	"audio":      models.CategoryAudio,
	"android":    models.CategoryAndroid,
	"ebook_apk":  models.CategoryAndroid,
	"video":      models.CategoryVideo,
	"ebook":      models.CategoryEbook,
	"ebook_pdf":  models.CategoryEbook,
	"ebook_epub": models.CategoryEbook,
	"ebook_mobi": models.CategoryEbook,
	"comedy":     models.CategoryAudio,
	"windows":    models.CategoryGame,
	"mac":        models.CategoryGame,
	"macos":      models.CategoryGame,
	"osx":        models.CategoryGame,
	"linux":      models.CategoryGame,
	"asmjs":      models.CategoryGame,
	"steam":      models.CategoryKey,
	"origin":     models.CategoryKey,
	"uplay":      models.CategoryKey,
	"gog":        models.CategoryKey,
}

type textRule struct {
	category string
	re       *regexp.Regexp
}

func rule(category, pattern string) textRule {
	return textRule{category: category, re: regexp.MustCompile(`(?i)\b(?:` + pattern + `)\b`)}
}

// Evaluated in order; rpgmaker has to win over rpg.
var textRules = []textRule{
	rule(models.CategoryComic, `comics?|manga|graphic novels?|cbz|cbr`),
	rule(models.CategoryEbook, `e-?books?|books?|novels?|guide|pdf|epub|mobi`),
	rule(models.CategoryAudio, `soundtracks?|ost|music|score|flac|mp3|audiobooks?`),
	rule(models.CategorySounds, `sfx|sound effects?|fx pack|foley|sound packs?|soundfx`),
	rule(models.CategoryVideo, `videos?|tutorials?|courses?|webinars?|lessons?|masterclass|recordings?`),
	rule(models.CategoryUnity, `unitypackage|unity`),
	rule(models.CategoryUnreal, `unreal|ue4|ue5|uasset|uproject`),
	rule(models.Category3D, `3d models?|3d packs?|low poly|fbx|blend`),
	rule(models.CategoryRPGMaker, `rpg ?maker|rmmv|rmmz|rm2k|rmxp|rmvx`),
	rule(models.CategoryRPG, `rpg|role[- ]?playing`),
	rule(models.CategoryArt, `tilesets?|tiles|grid map|sprites?|spritesheets?|pixel art|icon packs?|ui packs?|ui kit|art packs?|textures?|backgrounds?|asset packs?|characters?|portraits?|hud`),
	rule(models.CategoryKey, `dlc|steam key|activation`),
	rule(models.CategorySoftware, `software|appimage|installer|source code|plugins?|add-?ons?|godot|tools?`),
	rule(models.CategoryGame, `games?`),
}

// HeuristicInput is the text used to guess a category without the classifier.
type HeuristicInput struct {
	Title       string
	Bundle      string
	Description string
	FileName    string
	Ext         string
	Platform    string
}

// HeuristicCategory applies the extension map, then the platform map, then
// the keyword rules. ok is false when nothing matched.
func HeuristicCategory(in HeuristicInput) (category string, ok bool) {
	if c, hit := extCategories[strings.ToLower(in.Ext)]; hit {
		return c, true
	}
	if c, hit := platformCategories[strings.ToLower(in.Platform)]; hit {
		return c, true
	}
	return TextCategory(in.Title, in.Bundle, in.FileName, in.Description)
}

// TextCategory runs the keyword rules over the given fields.
func TextCategory(fields ...string) (string, bool) {
	text := strings.Join(fields, " ")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, r := range textRules {
		if r.re.MatchString(text) {
			return r.category, true
		}
	}
	return "", false
}
