package models

const (
	CategoryGame     = "game"
	CategoryEbook    = "ebook"
	CategoryComic    = "comic"
	CategoryAudio    = "audio"
	CategoryVideo    = "video"
	CategorySoftware = "software"
	CategoryAndroid  = "android"
	CategoryArchive  = "archive"
	CategoryKey      = "key"
	CategoryOther    = "other"
	CategorySounds   = "sounds"
	CategoryArt      = "art"
	Category3D       = "3d"
	CategoryRPG      = "rpg"
	CategoryRPGMaker = "rpgmaker"
	CategoryUnity    = "unity"
	CategoryUnreal   = "unreal"
)

// Categories is the closed set of category labels, in prompt order.
var Categories = []string{
	CategoryGame, CategoryEbook, CategoryComic, CategoryAudio, CategoryVideo,
	CategorySoftware, CategoryAndroid, CategoryArchive, CategoryKey, CategoryOther,
	CategorySounds, CategoryArt, Category3D, CategoryRPG, CategoryRPGMaker,
	CategoryUnity, CategoryUnreal,
}

func IsCategory(v string) bool {
	for _, c := range Categories {
		if c == v {
			return true
		}
	}
	return false
}
