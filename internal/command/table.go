package command

import (
	"sort"

	"famtool-server/internal/model"
)

// table maps every accepted command type to the quota it consumes. An empty
// media type means the command is not quota tracked. Types not listed here
// are rejected.
var table = map[string]model.MediaType{
	"capturePhoto":        model.MediaPhotos,
	"recordVideo":         model.MediaVideos,
	"recordAudio":         model.MediaAudio,
	"toggleAppVisibility": "",
	"testCommand":         "",
	"refresh":             "",
}

// QuotaFor returns the media type a command consumes and whether the command
// type is known at all.
func QuotaFor(commandType string) (model.MediaType, bool) {
	mt, ok := table[commandType]
	return mt, ok
}

// Types lists the accepted command types in a stable order.
func Types() []string {
	out := make([]string, 0, len(table))
	for t := range table {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
