package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise/media"
)

// mediaFileServer serves stored media read-only. Directory listings are not
// served and every path is checked against the media sandbox.
func mediaFileServer(m *media.Manager) http.Handler {
	files := http.FileServer(filesOnly{afero.NewHttpFs(afero.NewReadOnlyFs(m.FS()))})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := media.Sandbox(strings.TrimPrefix(r.URL.Path, "/")); err != nil {
			writeError(w, http.StatusForbidden, "media path escapes the media root")
			return
		}
		files.ServeHTTP(w, r)
	})
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
